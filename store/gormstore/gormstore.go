// Package gormstore is a store.Store kept in a MySQL database with gorm.
//
// LockChannel takes a row lock that is held until the transaction ends, so
// agents in different processes sharing the database take turns on a
// channel. Channel writes are also conditional on the revision read.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
	"github.com/stellar/go/support/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

var _ store.Store = &Store{}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to the MySQL database at dsn, pings it, and migrates its
// tables. Statements are logged to l at warn level and above.
func Open(dsn string, l *log.Entry) (*Store, error) {
	if l == nil {
		l = log.DefaultLogger
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.New(printer{l}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	err = sqlDB.Ping()
	if err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	err = Migrate(db)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// Migrate creates or updates the tables of the store.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&Channel{}, &Funding{}, &Objective{})
	if err != nil {
		return fmt.Errorf("migrating tables: %w", err)
	}
	return nil
}

type printer struct {
	l *log.Entry
}

func (p printer) Printf(format string, args ...interface{}) {
	p.l.Infof(format, args...)
}

func (s *Store) Transaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&tx{db: db})
	})
}

// Close closes the database connections.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type tx struct {
	db *gorm.DB
}

func (t *tx) LockChannel(id state.Bytes32) (*channel.Channel, error) {
	return t.channel(t.db.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (t *tx) Channel(id state.Bytes32) (*channel.Channel, error) {
	return t.channel(t.db, id)
}

func (t *tx) channel(db *gorm.DB, id state.Bytes32) (*channel.Channel, error) {
	row := Channel{}
	err := db.Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("channel %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading channel %s: %w", id, err)
	}
	funding := []Funding{}
	err = t.db.Where("channel_id = ?", row.ID).Order("asset").Find(&funding).Error
	if err != nil {
		return nil, fmt.Errorf("reading funding of %s: %w", id, err)
	}
	return row.channel(funding)
}

func (t *tx) exists(id state.Bytes32) error {
	count := int64(0)
	err := t.db.Model(&Channel{}).Where("id = ?", id.String()).Count(&count).Error
	if err != nil {
		return fmt.Errorf("reading channel %s: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("channel %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (t *tx) InsertChannel(c *channel.Channel) error {
	err := c.Validate()
	if err != nil {
		return err
	}
	row, err := channelRow(c)
	if err != nil {
		return err
	}
	row.Revision = 1
	result := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("inserting channel %s: %w", c.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("channel %s: %w", c.ID, store.ErrAlreadyExists)
	}
	c.Revision = 1
	return nil
}

func (t *tx) UpdateChannel(c *channel.Channel) error {
	err := c.Validate()
	if err != nil {
		return err
	}
	row, err := channelRow(c)
	if err != nil {
		return err
	}
	result := t.db.Model(&Channel{}).
		Where("id = ? AND revision = ?", row.ID, c.Revision).
		Updates(map[string]interface{}{
			"vars":     row.Vars,
			"revision": c.Revision + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("updating channel %s: %w", c.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		err = t.exists(c.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: channel %s written from revision %d", channel.ErrStaleState, c.ID, c.Revision)
	}
	c.Revision++
	return nil
}

func (t *tx) UpdateFunding(id state.Bytes32, f channel.Funding) error {
	err := t.exists(id)
	if err != nil {
		return err
	}
	row := fundingRow(id, f)
	err = t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "asset"}},
		DoUpdates: clause.AssignmentColumns([]string{"held", "transferred_out"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("updating funding of %s: %w", id, err)
	}
	return nil
}

func (t *tx) InsertObjective(o objective.Objective) error {
	for _, id := range o.ChannelIDs() {
		err := t.exists(id)
		if err != nil {
			return fmt.Errorf("inserting objective %s: %w", o.ID, err)
		}
	}
	row := objectiveRow(o)
	result := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("inserting objective %s: %w", o.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("objective %s: %w", o.ID, store.ErrAlreadyExists)
	}
	return nil
}

func (t *tx) Objective(id string) (objective.Objective, error) {
	row := Objective{}
	err := t.db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return objective.Objective{}, fmt.Errorf("objective %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return objective.Objective{}, fmt.Errorf("reading objective %s: %w", id, err)
	}
	return row.objective()
}

func (t *tx) UpdateObjective(o objective.Objective) error {
	cur, err := t.Objective(o.ID)
	if err != nil {
		return err
	}
	if cur.Status == o.Status {
		return nil
	}
	if !cur.Status.CanTransition(o.Status) {
		return fmt.Errorf("%w: %s from %s to %s", objective.ErrInvalidTransition, o.ID, cur.Status, o.Status)
	}
	// The status condition keeps a concurrent writer from skipping a
	// transition.
	result := t.db.Model(&Objective{}).
		Where("id = ? AND status = ?", o.ID, string(cur.Status)).
		Update("status", string(o.Status))
	if result.Error != nil {
		return fmt.Errorf("updating objective %s: %w", o.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s moved from %s", objective.ErrInvalidTransition, o.ID, cur.Status)
	}
	return nil
}

func (t *tx) ObjectivesForChannels(ids ...state.Bytes32) ([]objective.Objective, error) {
	if len(ids) == 0 {
		return []objective.Objective{}, nil
	}
	hexIDs := make([]string, len(ids))
	for i, id := range ids {
		hexIDs[i] = id.String()
	}
	rows := []Objective{}
	err := t.db.Where("channel_id IN ?", hexIDs).Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("reading objectives: %w", err)
	}
	objectives := make([]objective.Objective, 0, len(rows))
	for _, r := range rows {
		o, err := r.objective()
		if err != nil {
			return nil, err
		}
		objectives = append(objectives, o)
	}
	return objectives, nil
}
