package store

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/falaai/server/internal/core/error"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	s := New(sqlx.NewDb(mockDB, "mysql"))
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

var userCols = []string{"id", "nome", "email", "senha", "termos_registro", "data_registro",
	"verification_code", "code_expiration", "email_verified", "profile_pic_url"}

func TestCreateUser(t *testing.T) {
	s, mock := newMockStore(t)
	exp := fixedNow.Add(24 * time.Hour)

	mock.ExpectExec("INSERT INTO usuarios").
		WithArgs("Ana", "ana@example.com", "hash", true, fixedNow, "tok", exp, false, DefaultProfilePicURL).
		WillReturnResult(sqlmock.NewResult(7, 1))

	id, err := s.CreateUser(context.Background(), NewUser{
		Name: "Ana", Email: "ana@example.com", PasswordHash: "hash",
		AcceptedTerms: true, VerificationToken: "tok", TokenExpiresAt: exp,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserFallsBackToLookup(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO usuarios").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM usuarios WHERE email = ?").
		WithArgs("ana@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(9, "Ana", "ana@example.com", "hash", true, fixedNow, "tok", fixedNow, false, nil))

	id, err := s.CreateUser(context.Background(), NewUser{Name: "Ana", Email: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
}

func TestGetUserByEmailNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM usuarios WHERE email = ?").
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUserByEmail(context.Background(), "nobody@example.com")
	require.Error(t, err)
	assert.True(t, errx.IsNotFound(err))
}

func TestGetUserByID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM usuarios WHERE id = ?").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(3, "Bruno Lima", "b@example.com", "hash", true, fixedNow, nil, nil, true, nil))

	u, err := s.GetUserByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Bruno Lima", u.Name)
	assert.True(t, u.EmailVerified)
	assert.False(t, u.VerificationToken.Valid)
	assert.Equal(t, DefaultProfilePicURL, u.PictureURL())
}

func TestEmailTakenByOther(t *testing.T) {
	s, mock := newMockStore(t)
	q := regexp.QuoteMeta("SELECT id FROM usuarios WHERE email = ? AND id != ? LIMIT 1")

	mock.ExpectQuery(q).WithArgs("x@example.com", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectQuery(q).WithArgs("y@example.com", int64(1)).
		WillReturnError(sql.ErrNoRows)

	taken, err := s.EmailTakenByOther(context.Background(), "x@example.com", 1)
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = s.EmailTakenByOther(context.Background(), "y@example.com", 1)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestIsEmailVerified(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT email_verified FROM usuarios").WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"email_verified"}).AddRow(true))
	mock.ExpectQuery("SELECT email_verified FROM usuarios").WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)

	ok, err := s.IsEmailVerified(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsEmailVerified(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkEmailVerified(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE usuarios SET email_verified = TRUE, verification_code = NULL, code_expiration = NULL WHERE id = ?")).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkEmailVerified(context.Background(), 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileOnlyWritesGivenFields(t *testing.T) {
	s, mock := newMockStore(t)
	name := "Carla"
	email := "carla@example.com"
	exp := fixedNow.Add(time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE usuarios SET nome = ?, email = ?, email_verified = ?, verification_code = ?, code_expiration = ? WHERE id = ?")).
		WithArgs(name, email, false, "new-token", exp, int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateProfile(context.Background(), 8, ProfileUpdate{
		Name:           &name,
		Email:          &email,
		Reverification: &Verification{Token: "new-token", ExpiresAt: exp},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileEmptyIsNoop(t *testing.T) {
	s, mock := newMockStore(t)
	require.NoError(t, s.UpdateProfile(context.Background(), 1, ProfileUpdate{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileDatabaseError(t *testing.T) {
	s, mock := newMockStore(t)
	pic := "/uploads/profile_pics/a.png"

	mock.ExpectExec("UPDATE usuarios SET profile_pic_url").
		WillReturnError(errors.New("connection reset"))

	err := s.UpdateProfile(context.Background(), 1, ProfileUpdate{ProfilePicURL: &pic})
	status, msg := errx.StatusOf(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, errx.DatabaseErrorMessage, msg)
}
