package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/theimaginaryfoundation/jarvis/assistant"
	"github.com/theimaginaryfoundation/jarvis/assistant/fileutils"
	"github.com/theimaginaryfoundation/jarvis/logging"
)

// JSONLLog appends one JSON object per line. A torn or malformed line is skipped on read.
type JSONLLog struct {
	path string
	log  *logging.Logger
}

var _ assistant.InteractionLog = (*JSONLLog)(nil)

func NewJSONLLog(path string, lg *logging.Logger) *JSONLLog {
	if lg == nil {
		lg = logging.Nop()
	}
	return &JSONLLog{path: path, log: lg.With("component", "interaction_log", "path", path)}
}

func (l *JSONLLog) Append(_ context.Context, rec assistant.InteractionRecord) error {
	if err := fileutils.AppendJSONLine(l.path, rec); err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	return nil
}

func (l *JSONLLog) ReadAll(ctx context.Context) ([]assistant.InteractionRecord, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open interaction log: %w", err)
	}
	defer f.Close()

	var out []assistant.InteractionRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo, skipped := 0, 0
	for sc.Scan() {
		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec assistant.InteractionRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			l.log.Warn("skipping malformed interaction line", "line", lineNo, "err", err)
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan interaction log: %w", err)
	}
	if skipped > 0 {
		l.log.Info("interaction log read with skipped lines", "records", len(out), "skipped", skipped)
	}
	assistant.SortRecords(out)
	return out, nil
}

type interactionRow struct {
	Seq         uint      `gorm:"primaryKey;autoIncrement"`
	ID          string    `gorm:"uniqueIndex;size:64"`
	Timestamp   time.Time `gorm:"index"`
	UserInput   string
	Emotion     string `gorm:"index;size:64"`
	Confidence  float64
	Method      string `gorm:"size:64"`
	Books       string
	Playlist    string `gorm:"size:128"`
	MusicStatus string `gorm:"size:32"`
	SessionID   string `gorm:"index;size:64"`
}

func (interactionRow) TableName() string { return "interactions" }

func rowFromRecord(rec assistant.InteractionRecord) (interactionRow, error) {
	books, err := json.Marshal(rec.Books)
	if err != nil {
		return interactionRow{}, err
	}
	return interactionRow{
		ID:          rec.ID,
		Timestamp:   rec.Timestamp.UTC(),
		UserInput:   rec.UserInput,
		Emotion:     rec.Emotion,
		Confidence:  rec.Confidence,
		Method:      rec.Method,
		Books:       string(books),
		Playlist:    rec.Playlist,
		MusicStatus: rec.MusicStatus,
		SessionID:   rec.SessionID,
	}, nil
}

func (r interactionRow) record() assistant.InteractionRecord {
	rec := assistant.InteractionRecord{
		ID:          r.ID,
		Timestamp:   r.Timestamp.UTC(),
		UserInput:   r.UserInput,
		Emotion:     r.Emotion,
		Confidence:  r.Confidence,
		Method:      r.Method,
		Playlist:    r.Playlist,
		MusicStatus: r.MusicStatus,
		SessionID:   r.SessionID,
	}
	if r.Books != "" && r.Books != "null" {
		_ = json.Unmarshal([]byte(r.Books), &rec.Books)
	}
	return rec
}

// GormLog stores interactions in a SQLite table through gorm.
type GormLog struct {
	db *gorm.DB
}

var _ assistant.InteractionLog = (*GormLog)(nil)

// OpenSQLiteLog opens (or creates) the database at path and migrates the interactions table.
func OpenSQLiteLog(path string) (*GormLog, error) {
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	return NewGormLog(db)
}

func NewGormLog(db *gorm.DB) (*GormLog, error) {
	if err := db.AutoMigrate(&interactionRow{}); err != nil {
		return nil, fmt.Errorf("migrate interactions: %w", err)
	}
	return &GormLog{db: db}, nil
}

func (l *GormLog) Append(ctx context.Context, rec assistant.InteractionRecord) error {
	row, err := rowFromRecord(rec)
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
}

func (l *GormLog) ReadAll(ctx context.Context) ([]assistant.InteractionRecord, error) {
	var rows []interactionRow
	if err := l.db.WithContext(ctx).Order("timestamp asc").Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read interactions: %w", err)
	}
	out := make([]assistant.InteractionRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	assistant.SortRecords(out)
	return out, nil
}

func (l *GormLog) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
