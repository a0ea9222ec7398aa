package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/logger"
)

// Listen holds one pooled connection LISTENing on channel and calls fn for
// every change notification until ctx is cancelled or the connection fails.
func (c *Client) Listen(ctx context.Context, channel string, fn func(backend.Change)) error {
	ch, err := ident(channel)
	if err != nil {
		return err
	}
	if c.pool == nil {
		return fmt.Errorf("cloud: no pool")
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return backend.Transient("cloud listen", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ch); err != nil {
		return backend.Transient("cloud listen", err)
	}
	logger.Log.Info("Listening for cloud changes", zap.String("channel", channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return backend.Transient("cloud listen", err)
		}

		var change backend.Change
		if err := json.Unmarshal([]byte(n.Payload), &change); err != nil || change.Table == "" {
			logger.Log.Warn("Ignoring malformed change notification",
				zap.String("channel", n.Channel),
				zap.String("payload", n.Payload),
			)
			continue
		}
		fn(change)
	}
}

// changeFeedSQL renders the idempotent DDL behind the change feed: one notify
// function and an AFTER trigger per table.
func changeFeedSQL(channel string, tables []string) (string, error) {
	if !backend.ValidIdentifier(channel) {
		return "", &backend.ConfigurationError{Field: "cloud.change_channel", Reason: "invalid channel name"}
	}

	var sb strings.Builder
	sb.WriteString(`CREATE OR REPLACE FUNCTION groundzero_notify_change() RETURNS trigger AS $$
DECLARE
  rec RECORD;
BEGIN
  IF TG_OP = 'DELETE' THEN rec := OLD; ELSE rec := NEW; END IF;
  PERFORM pg_notify(TG_ARGV[0], json_build_object('table', TG_TABLE_NAME, 'type', TG_OP, 'id', rec.id)::text);
  RETURN NULL;
END;
$$ LANGUAGE plpgsql;
`)

	for _, table := range tables {
		tbl, err := ident(table)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "DROP TRIGGER IF EXISTS groundzero_notify ON %s;\n", tbl)
		fmt.Fprintf(&sb, "CREATE TRIGGER groundzero_notify AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION groundzero_notify_change('%s');\n", tbl, channel)
	}
	return sb.String(), nil
}

// InstallChangeFeed creates the change feed triggers for tables.
func (c *Client) InstallChangeFeed(ctx context.Context, channel string, tables []string) error {
	ddl, err := changeFeedSQL(channel, tables)
	if err != nil {
		return err
	}
	if _, err := c.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("install change feed: %w", err)
	}
	logger.Log.Info("Installed cloud change feed",
		zap.String("channel", channel),
		zap.Strings("tables", tables),
	)
	return nil
}
