package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pageguard/pageguard/internal/config"
	"github.com/pageguard/pageguard/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrSecretMissing      = errors.New("jwt secret not configured")
)

const (
	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute
	tokenLifetime   = 24 * time.Hour
)

type AuthService struct {
	db     *gorm.DB
	secret []byte
}

// NewAuthService returns an AuthService using the provided DB and config.
func NewAuthService(db *gorm.DB, cfg config.Config) *AuthService {
	return &AuthService{db: db, secret: []byte(cfg.JWTSecret)}
}

// Register creates a user. The first registered user becomes admin.
func (s *AuthService) Register(email, password, name string) (*models.User, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return nil, err
	}

	role := "user"
	if count == 0 {
		role = "admin"
	}

	user := models.User{
		UUID:    uuid.NewString(),
		Email:   email,
		Name:    name,
		Role:    role,
		Enabled: true,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Login verifies credentials and returns a signed JWT. Failed attempts are
// counted and the account locks temporarily after too many.
func (s *AuthService) Login(email, password string) (string, error) {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if !user.Enabled {
		return "", ErrAccountDisabled
	}
	if user.IsLocked() {
		return "", ErrAccountLocked
	}

	if !user.CheckPassword(password) {
		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= maxFailedLogins {
			until := time.Now().Add(lockoutDuration)
			user.LockedUntil = &until
		}
		s.db.Save(&user)
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = &now
	s.db.Save(&user)

	return s.generateToken(&user)
}

// ChangePassword verifies the old password and sets a new one.
func (s *AuthService) ChangePassword(userID uint, oldPassword, newPassword string) error {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}
	if !user.CheckPassword(oldPassword) {
		return ErrInvalidCredentials
	}
	if err := user.SetPassword(newPassword); err != nil {
		return err
	}
	return s.db.Save(user).Error
}

// GetUserByID loads a user by primary key.
func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ValidateToken parses a JWT and returns the user id and role claims.
// An unconfigured secret rejects every token: HS256 with an empty key would
// otherwise let anyone mint valid admin tokens.
func (s *AuthService) ValidateToken(tokenString string) (uint, string, error) {
	if len(s.secret) == 0 {
		return 0, "", ErrSecretMissing
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, "", ErrInvalidCredentials
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", ErrInvalidCredentials
	}
	userID, ok := claims["sub"].(float64)
	if !ok {
		return 0, "", ErrInvalidCredentials
	}
	role, _ := claims["role"].(string)
	return uint(userID), role, nil
}

func (s *AuthService) generateToken(user *models.User) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrSecretMissing
	}
	claims := jwt.MapClaims{
		"sub":  float64(user.ID),
		"role": user.Role,
		"exp":  time.Now().Add(tokenLifetime).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
