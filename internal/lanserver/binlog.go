package lanserver

import (
	"fmt"

	"github.com/go-mysql-org/go-mysql/canal"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/logger"
)

// BinlogListener tails the MySQL binlog and publishes row changes, so edits
// made by other writers reach socket clients too.
type BinlogListener struct {
	cfg     config.DatabaseConnection
	canal   *canal.Canal
	publish func(backend.Change)
	tables  map[string]bool // Whitelist of tables
}

func NewBinlogListener(cfg config.DatabaseConnection, serverID uint32, tables []string, publish func(backend.Change)) (*BinlogListener, error) {
	tableMap := make(map[string]bool)
	var tableRegex []string
	for _, t := range tables {
		tableMap[t] = true
		tableRegex = append(tableRegex, fmt.Sprintf("^%s\\.%s$", cfg.Database, t))
	}
	if len(tableRegex) == 0 {
		tableRegex = append(tableRegex, fmt.Sprintf("^%s\\..*$", cfg.Database))
	}

	c, err := canal.NewCanal(&canal.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:     cfg.ReplicationUser,
		Password: cfg.ReplicationPassword,
		Flavor:   "mysql",
		ServerID: serverID,
		Dump: canal.DumpConfig{
			ExecutionPath: "", // binlog only, no initial dump
		},
		IncludeTableRegex: tableRegex,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create canal: %w", err)
	}

	l := &BinlogListener{
		cfg:     cfg,
		canal:   c,
		publish: publish,
		tables:  tableMap,
	}
	c.SetEventHandler(&eventHandler{listener: l})
	return l, nil
}

// Start begins tailing from the current binlog position.
func (l *BinlogListener) Start() error {
	pos, err := l.canal.GetMasterPos()
	if err != nil {
		return fmt.Errorf("failed to read binlog position: %w", err)
	}
	logger.Log.Info("Starting binlog listener",
		zap.String("host", l.cfg.Host),
		zap.String("file", pos.Name),
		zap.Uint32("pos", pos.Pos),
	)

	go func() {
		if err := l.canal.RunFrom(pos); err != nil {
			logger.Log.Error("Canal run error", zap.Error(err))
		}
	}()
	return nil
}

func (l *BinlogListener) Stop() {
	l.canal.Close()
	logger.Log.Info("Stopped binlog listener")
}

type eventHandler struct {
	canal.DummyEventHandler
	listener *BinlogListener
}

func (h *eventHandler) OnRow(e *canal.RowsEvent) error {
	if len(h.listener.tables) > 0 && !h.listener.tables[e.Table.Name] {
		return nil
	}

	var changeType string
	rows := e.Rows
	switch e.Action {
	case canal.InsertAction:
		changeType = backend.ChangeInsert
	case canal.UpdateAction:
		changeType = backend.ChangeUpdate
		rows = afterImages(rows)
	case canal.DeleteAction:
		changeType = backend.ChangeDelete
	default:
		return nil
	}

	names := make([]string, len(e.Table.Columns))
	for i, col := range e.Table.Columns {
		names[i] = col.Name
	}
	for _, row := range rows {
		rec := rowRecord(names, row)
		id, _ := rec.ID()
		h.listener.publish(backend.Change{
			Table:    e.Table.Name,
			Type:     changeType,
			RecordID: id,
			Record:   rec,
		})
	}
	return nil
}

func (h *eventHandler) String() string {
	return "BinlogEventHandler"
}

// afterImages keeps the new row of each before/after pair of an update event.
func afterImages(rows [][]interface{}) [][]interface{} {
	out := make([][]interface{}, 0, len(rows)/2)
	for i := 1; i < len(rows); i += 2 {
		out = append(out, rows[i])
	}
	return out
}

func rowRecord(names []string, row []interface{}) backend.Record {
	rec := make(backend.Record, len(names))
	for i, name := range names {
		if i < len(row) {
			rec[name] = normalize(row[i])
		}
	}
	return rec
}
