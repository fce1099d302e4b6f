package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/parley/chat-app/internal/chat"
)

// SQLSTATE codes translated into the chat error taxonomy.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeInvalidText         = "22P02"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
	codeAdminShutdown       = "57P01"
)

// mapErr wraps err with op and the matching chat sentinel.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, chat.ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("postgres: %s: %w: %v", op, chat.ErrTransient, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("postgres: %s: %w: %s", op, chat.ErrConflict, pqErr.Constraint)
		case codeForeignKeyViolation, codeInvalidText:
			return fmt.Errorf("postgres: %s: %w: %s", op, chat.ErrNotFound, pqErr.Message)
		case codeCheckViolation:
			return fmt.Errorf("postgres: %s: %w: %s", op, chat.ErrValidation, pqErr.Constraint)
		case codeSerialization, codeDeadlock, codeAdminShutdown:
			return fmt.Errorf("postgres: %s: %w: %s", op, chat.ErrTransient, pqErr.Message)
		}
		switch pqErr.Code.Class() {
		case "08", "53": // connection exception, insufficient resources
			return fmt.Errorf("postgres: %s: %w: %s", op, chat.ErrTransient, pqErr.Message)
		}
		return fmt.Errorf("postgres: %s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("postgres: %s: %w: %v", op, chat.ErrTransient, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// canonicalID returns id in the lowercase hyphenated form postgres prints
// UUIDs in. An identifier that can never match a UUID primary key reads as an
// absent row instead of a driver error.
func canonicalID(kind, id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("postgres: %s %q: %w", kind, id, chat.ErrNotFound)
	}
	return parsed.String(), nil
}
