package rest

type RegisterRequest struct {
	UserName    string `json:"userName" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth string `json:"dateOfBirth"`
	Phone       string `json:"phone"`
	Street      string `json:"street"`
	Number      string `json:"number"`
	UnitNumber  string `json:"unitNumber"`
	PostalCode  string `json:"postalCode"`
	City        string `json:"city"`
	Newsletter  bool   `json:"newsletter"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// LogoutRequest is optional. With a refresh token only that session ends,
// without one every session of the caller ends.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type MeResponse struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}
