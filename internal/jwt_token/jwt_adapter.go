package jwttoken

import "medgate/pkg/requestcontext"

// ToIdentity maps validated claims to the request identity.
func ToIdentity(claims *Claims) requestcontext.Identity {
	return requestcontext.Identity{
		UserID:      claims.Subject,
		Role:        claims.Role,
		Department:  claims.Department,
		Permissions: claims.Permissions,
	}
}

// JWTServiceAdapter satisfies the auth middleware's validator interface.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (requestcontext.Identity, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return requestcontext.Identity{}, err
	}
	return ToIdentity(claims), nil
}
