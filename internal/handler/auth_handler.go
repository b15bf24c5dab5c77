/*
Package handler provides HTTP handler functions for user authentication.
*/
package handler

import (
	"net/http"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/crypto/bcrypt"

	"studyhub/internal/app/db"
	"studyhub/internal/app/identity"
	"studyhub/internal/pkg/auth/jwt"
	"studyhub/internal/pkg/errs"
	"studyhub/internal/pkg/logx"
	"studyhub/internal/pkg/randx"
	"studyhub/internal/pkg/req"
	"studyhub/internal/pkg/resp"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-z0-9_]{4,20}$`)
)

const (
	minPasswordLength = 6
	maxPasswordLength = 50
	maxNicknameLength = 24
)

type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleRegister creates a user account and signs the caller in.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input RegisterInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if !usernameRegex.MatchString(input.Username) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidUsername))
			return
		}

		passwordLen := utf8.RuneCountInString(input.Password)
		if passwordLen < minPasswordLength || passwordLen > maxPasswordLength {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidPassword))
			return
		}

		if utf8.RuneCountInString(input.Nickname) > maxNicknameLength {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		nickname := input.Nickname
		if nickname == "" {
			generated, err := randx.Nickname()
			if err != nil {
				generated = "Learner_X"
			}
			nickname = generated
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		row, err := deps.DB.CreateUser(r.Context(), db.CreateUserParams{
			Username:     input.Username,
			PasswordHash: string(hashedPassword),
			Nickname:     db.Text(nickname),
		})
		if err != nil {
			if db.IsUniqueViolation(err) {
				logx.Warn("registration conflict: username already exists", "username", input.Username)
				resp.RespondError(w, r, errs.NewError(errs.ErrUserAlreadyExists))
				return
			}

			logx.Error(err, "failed to create user in database")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		if err := deps.DB.UpdateLastLogin(r.Context(), row.ID); err != nil {
			logx.Error(err, "register: failed to update last_login_at", "user_id", db.UUIDString(row.ID))
		}

		respondWithToken(w, r, deps, row, http.StatusCreated)
	}
}

// HandleLogin verifies user credentials and issues a JWT.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input LoginInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		row, err := deps.DB.GetUserByUsername(r.Context(), input.Username)
		if err != nil {
			if !db.IsNotFound(err) {
				logx.Error(err, "login: user fetch failed", "username", input.Username)
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(input.Password)); err != nil {
			logx.Warn("login: password mismatch", "username", input.Username)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		if err := deps.DB.UpdateLastLogin(r.Context(), row.ID); err != nil {
			logx.Error(err, "login: failed to update last_login_at", "user_id", db.UUIDString(row.ID))
		}

		respondWithToken(w, r, deps, row, http.StatusOK)
	}
}

// HandleMe returns the profile of the authenticated user.
func HandleMe(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)

		id, err := db.ParseUUID(payload.ID)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
			return
		}

		row, err := deps.DB.GetUserByID(r.Context(), id)
		if err != nil {
			if db.IsNotFound(err) {
				resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
				return
			}
			logx.Error(err, "me: user fetch failed", "user_id", payload.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"user":        identity.FromRow(row),
			"createdAt":   formatTime(row.CreatedAt),
			"lastLoginAt": formatTime(row.LastLoginAt),
		})
	}
}

func respondWithToken(w http.ResponseWriter, r *http.Request, deps *AppDeps, row db.User, status int) {
	u := identity.FromRow(row)

	token, err := jwt.GenerateToken(&jwt.Payload{
		ID:       u.ID,
		Username: u.Username,
		Nickname: u.Nickname,
	}, deps.Config.JWTSecret, jwt.IdentityExpiration)
	if err != nil {
		logx.Error(err, "jwt generation failed", "user_id", u.ID)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	data := map[string]any{
		"token": token,
		"user":  u,
	}

	if status == http.StatusCreated {
		resp.RespondCreated(w, r, data)
		return
	}
	resp.RespondSuccess(w, r, data)
}

func formatTime(ts pgtype.Timestamptz) any {
	if !ts.Valid {
		return nil
	}
	return ts.Time.UTC().Format(time.RFC3339)
}
