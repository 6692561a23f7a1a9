package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var convCols = []string{"id", "id_usuario", "titulo_conversa", "data_criacao", "data_atualizacao"}

func TestCreateConversation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO conversas").
		WithArgs(int64(1), "Nova Conversa...", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(42, 1))

	id, err := s.CreateConversation(context.Background(), 1, "Nova Conversa...")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestLatestConversation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM conversas WHERE id_usuario = \\? ORDER BY data_atualizacao DESC LIMIT 1").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(convCols).AddRow(5, 1, "Receitas", fixedNow, fixedNow))
	mock.ExpectQuery("FROM conversas WHERE id_usuario = \\? ORDER BY data_atualizacao DESC LIMIT 1").
		WithArgs(int64(2)).
		WillReturnError(sql.ErrNoRows)

	c, err := s.LatestConversation(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(5), c.ID)
	assert.Equal(t, "Receitas", c.Title)

	c, err = s.LatestConversation(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestConversationOwnedBy(t *testing.T) {
	s, mock := newMockStore(t)
	q := regexp.QuoteMeta("SELECT id FROM conversas WHERE id = ? AND id_usuario = ?")

	mock.ExpectQuery(q).WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectQuery(q).WithArgs(int64(5), int64(2)).
		WillReturnError(sql.ErrNoRows)

	ok, err := s.ConversationOwnedBy(context.Background(), 5, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ConversationOwnedBy(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListConversations(t *testing.T) {
	s, mock := newMockStore(t)
	older := fixedNow.Add(-time.Hour)

	mock.ExpectQuery("FROM conversas WHERE id_usuario = \\? ORDER BY data_atualizacao DESC").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(convCols).
			AddRow(2, 1, "Viagem", older, fixedNow).
			AddRow(1, 1, "Estudos", older, older))

	convs, err := s.ListConversations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "Viagem", convs[0].Title)
	assert.Equal(t, fixedNow, convs[0].UpdatedAt)
}

func TestAppendExchangeCommits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO mensagens").
		WithArgs(int64(3), SenderUser, "Oi", fixedNow).
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec("INSERT INTO mensagens").
		WithArgs(int64(3), SenderAI, "Olá!", fixedNow).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec("UPDATE conversas SET data_atualizacao").
		WithArgs(fixedNow, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.AppendExchange(context.Background(), 3, "Oi", "Olá!"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendExchangeRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO mensagens").WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec("INSERT INTO mensagens").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	require.Error(t, s.AppendExchange(context.Background(), 3, "Oi", "Olá!"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMessages(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM mensagens WHERE id_conversa = \\? ORDER BY data_envio ASC").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id_conversa", "remetente", "conteudo", "data_envio"}).
			AddRow(10, 3, "usuario", "Oi", fixedNow).
			AddRow(11, 3, "ia", "Olá!", fixedNow))

	msgs, err := s.ListMessages(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, SenderUser, msgs[0].Sender)
	assert.Equal(t, SenderAI, msgs[1].Sender)
	assert.Equal(t, "Olá!", msgs[1].Content)
}

func TestDeleteStaleConversations(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := fixedNow.Add(-72 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM mensagens WHERE id_conversa IN").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM conversas WHERE data_atualizacao < ?")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	msgs, convs, err := s.DeleteStaleConversations(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), msgs)
	assert.Equal(t, int64(3), convs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStaleConversationsRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM mensagens").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM conversas").WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	msgs, convs, err := s.DeleteStaleConversations(context.Background(), fixedNow)
	require.Error(t, err)
	assert.Zero(t, msgs)
	assert.Zero(t, convs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
