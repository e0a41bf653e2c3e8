package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	authdomain "inboxjanitor/internal/auth/domain"
	authdto "inboxjanitor/internal/auth/dto"
	"inboxjanitor/internal/auth/repository"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUserNotFound = errors.New("user not found")
)

// authUsecase implements AuthUsecase interface
type authUsecase struct {
	userRepo  repository.UserRepository
	fcmRepo   repository.FCMTokenRepository
	jwtSecret []byte
}

// NewAuthUsecase creates a new instance of authUsecase
func NewAuthUsecase(userRepo repository.UserRepository, fcmRepo repository.FCMTokenRepository, jwtSecret string) AuthUsecase {
	return &authUsecase{
		userRepo:  userRepo,
		fcmRepo:   fcmRepo,
		jwtSecret: []byte(jwtSecret),
	}
}

func (u *authUsecase) IssueToken(userID, email, name string, ttl time.Duration) (string, error) {
	if userID == "" || email == "" {
		return "", errors.New("user id and email are required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"email":   email,
		"name":    name,
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(u.jwtSecret)
}

func (u *authUsecase) ValidateToken(tokenString string) (*authdomain.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return u.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		userID, _ = claims["sub"].(string)
	}
	email, _ := claims["email"].(string)
	if userID == "" || email == "" {
		return nil, ErrInvalidToken
	}
	name, _ := claims["name"].(string)

	user, err := u.userRepo.EnsureUser(userID, strings.ToLower(email), name)
	if err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (u *authUsecase) DeleteUser(userID string) error {
	user, err := u.userRepo.FindByID(userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	return u.userRepo.Delete(userID)
}

func (u *authUsecase) RegisterFCMToken(userID string, req *authdto.RegisterFCMTokenRequest) error {
	return u.fcmRepo.SaveToken(userID, req.Token, req.DeviceInfo)
}

func (u *authUsecase) UnregisterFCMToken(userID, token string) error {
	return u.fcmRepo.DeleteUserToken(userID, token)
}
