package handler

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/nmoreno/biblioteca/internal/port"
)

// Authenticator issues JWTs for patrons. Account management happens
// outside this service; login only verifies stored credentials.
type Authenticator struct {
	patrons  port.PatronGateway
	secret   string
	tokenTTL time.Duration
	log      *logrus.Logger
}

func NewAuthenticator(patrons port.PatronGateway, secret string, tokenTTL time.Duration, log *logrus.Logger) *Authenticator {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Authenticator{patrons: patrons, secret: secret, tokenTTL: tokenTTL, log: log}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (a *Authenticator) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid request body"})
		return
	}

	patron, err := a.patrons.FindPatronByUsername(r.Context(), req.Username)
	if err != nil {
		a.log.WithError(err).Error("login: patron lookup failed")
		writeJSON(w, http.StatusServiceUnavailable, apiResponse{Message: "internal error"})
		return
	}
	if patron == nil ||
		bcrypt.CompareHashAndPassword([]byte(patron.PasswordHash), []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, apiResponse{Message: "invalid credentials"})
		return
	}
	if !patron.Active {
		writeJSON(w, http.StatusForbidden, apiResponse{Message: "account disabled"})
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   patron.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
	})
	signed, err := token.SignedString([]byte(a.secret))
	if err != nil {
		a.log.WithError(err).Error("login: token signing failed")
		writeJSON(w, http.StatusInternalServerError, apiResponse{Message: "internal error"})
		return
	}

	a.log.WithField("patron_id", patron.ID).Info("patron logged in")
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: loginResponse{Token: signed}})
}
