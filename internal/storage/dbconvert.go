package storage

import (
	"fmt"
	"strings"
	"time"

	"ratelimiter/internal/models"
)

// eventColumns is the column list shared by the SQL backends, in scan order.
const eventColumns = "id, profile, bucket_key, client_ip, user_agent, method, path, quota_limit, remaining, retry_after_ms, occurred_at"

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

// placeholderFunc renders the n-th (1-based) bind parameter.
type placeholderFunc func(n int) string

func questionPlaceholder(int) string { return "?" }

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// buildListQuery renders a SELECT for filter. occurredAt converts the Since
// bound into the backend's column representation.
func buildListQuery(table string, filter models.DenialFilter, ph placeholderFunc, occurredAt func(time.Time) any) (string, []any) {
	filter = filter.Normalize()

	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, ph(len(args))))
	}

	if filter.Profile != "" {
		add("profile = %s", filter.Profile)
	}
	if filter.ClientIP != "" {
		add("client_ip = %s", filter.ClientIP)
	}
	if !filter.Since.IsZero() {
		add("occurred_at >= %s", occurredAt(filter.Since))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(eventColumns)
	b.WriteString(" FROM ")
	b.WriteString(table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, filter.Limit)
	fmt.Fprintf(&b, " ORDER BY occurred_at DESC, id DESC LIMIT %s", ph(len(args)))

	return b.String(), args
}

// eventArgs returns the insert arguments for e in eventColumns order.
func eventArgs(e *models.DenialEvent, occurredAt any) []any {
	return []any{
		e.ID, e.Profile, e.Key, e.ClientIP, e.UserAgent, e.Method, e.Path,
		e.Limit, e.Remaining, e.RetryAfterMs, occurredAt,
	}
}

// scanEvent reads a row in eventColumns order. occurredAt receives the raw
// time column and convert turns it into a time.Time.
func scanEvent[T any](row rowScanner, convert func(T) time.Time) (*models.DenialEvent, error) {
	var (
		e  models.DenialEvent
		at T
	)
	if err := row.Scan(
		&e.ID, &e.Profile, &e.Key, &e.ClientIP, &e.UserAgent, &e.Method, &e.Path,
		&e.Limit, &e.Remaining, &e.RetryAfterMs, &at,
	); err != nil {
		return nil, err
	}
	e.OccurredAt = convert(at).UTC()
	return &e, nil
}

func unixMicro(t time.Time) any { return t.UnixMicro() }

func fromUnixMicro(us int64) time.Time { return time.UnixMicro(us) }

func asTime(t time.Time) any { return t }

func identityTime(t time.Time) time.Time { return t }
