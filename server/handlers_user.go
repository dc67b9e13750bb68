package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/ironlink/internal/util"
	"github.com/jmcleod/ironlink/protocol"
)

const tokenIssuer = "ironlink"

// userLogin checks a password sent inside the channel. Bad credentials are
// answered with 403 so clients do not confuse them with a lost node
// session.
func (s *Server) userLogin(r *http.Request, c *call) (any, error) {
	var req protocol.UserLoginRequest
	if err := c.decode(&req); err != nil {
		return nil, err
	}
	login := util.Normalize(req.Username)
	if login == "" {
		return nil, NewError(http.StatusBadRequest, "username is required")
	}
	if blocked, retry := s.limiter.check(login); blocked {
		return nil, NewError(http.StatusTooManyRequests, "too many failed login attempts; retry in %ds", int(retry.Seconds())+1)
	}
	password, err := util.B64Decode(req.Password)
	if err != nil {
		return nil, NewError(http.StatusBadRequest, "password must be base64")
	}
	defer util.WipeBytes(password)

	rec, ok := s.user(login)
	if !ok {
		s.limiter.recordFailure(login)
		s.logger.Info("login for unknown user", "node_id", c.session.nodeID)
		return nil, errBadCredentials
	}
	match, err := util.VerifyPassword(string(password), rec.hash)
	if err != nil {
		return nil, err
	}
	if !match {
		s.limiter.recordFailure(login)
		s.logger.Info("login with wrong password", "login", login, "node_id", c.session.nodeID)
		return nil, errBadCredentials
	}
	s.limiter.recordSuccess(login)
	s.logger.Info("user logged in", "login", login, "node_id", c.session.nodeID)
	return s.issueUserToken(rec.User)
}

// userRefresh exchanges a still valid user token for a new one. The token
// comes from the body, or from the bearer header when the body omits it.
func (s *Server) userRefresh(r *http.Request, c *call) (any, error) {
	var req protocol.UserRefreshRequest
	if err := c.decode(&req); err != nil {
		return nil, err
	}
	tok := req.Token
	if tok == "" {
		tok = bearerToken(r)
	}
	u, err := s.verifyUserToken(tok)
	if err != nil {
		s.logger.Info("refresh with invalid token", "node_id", c.session.nodeID, "error", err)
		return nil, errBadUserToken
	}
	rec, ok := s.user(u.Login)
	if !ok {
		return nil, errBadUserToken
	}
	return s.issueUserToken(rec.User)
}

func (s *Server) issueUserToken(u User) (*protocol.UserTokenResponse, error) {
	now := s.clock.Now()
	exp := now.Add(s.userTokenTTL)
	claims := jwt.MapClaims{
		"iss":   tokenIssuer,
		"sub":   u.Subject,
		"login": u.Login,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	if u.Email != "" {
		claims["email"] = u.Email
	}
	if u.Name != "" {
		claims["name"] = u.Name
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("signing user token: %w", err)
	}
	return &protocol.UserTokenResponse{
		Token:     signed,
		ExpiresAt: protocol.FormatTimestamp(time.Unix(exp.Unix(), 0)),
	}, nil
}

// verifyUserToken checks signature, issuer and expiry of a token this
// server issued.
func (s *Server) verifyUserToken(tok string) (*User, error) {
	if tok == "" {
		return nil, errors.New("missing token")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, err
	}
	sub, _ := claims.GetSubject()
	login, _ := claims["login"].(string)
	if login == "" {
		return nil, errors.New("token has no login claim")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	return &User{Subject: sub, Login: login, Email: email, Name: name}, nil
}
