// Package flightlog records events and fused states of a flight in a
// sqlite database.
package flightlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/jd3nn1s/dronesdk"
)

type EventRecord struct {
	ID        int64
	Timestamp time.Time
	Name      string
	Payload   *string
}

type StateRecord struct {
	ID        int64
	Timestamp time.Time
	State     dronesdk.FusedState
}

// Store is a flight log backed by a sqlite file. The database is opened on
// first use.
type Store struct {
	dbPath string
	now    func() time.Time

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

func NewStore(dbPath string) *Store {
	return &Store{
		dbPath: dbPath,
		now:    time.Now,
	}
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func (s *Store) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.dbErr = errors.Wrap(err, "opening flight log")
			return
		}
		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = errors.Wrap(err, "initializing schema")
			return
		}
		s.db = db
	})
	return s.db, s.dbErr
}

// RecordEvent stores an event with its payload encoded as JSON.
func (s *Store) RecordEvent(ctx context.Context, name string, payload interface{}) error {
	var payloadData sql.NullString
	if payload != nil {
		p, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrapf(err, "marshaling %s payload", name)
		}
		payloadData = sql.NullString{String: string(p), Valid: true}
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err = db.ExecContext(ctx, insertEventSQL, s.now().UTC(), name, payloadData); err != nil {
		return errors.Wrapf(err, "inserting %s event", name)
	}
	return nil
}

// EventCallback returns an event callback that records the named event.
func (s *Store) EventCallback(name string) dronesdk.Callback {
	return func(ctx context.Context, payload interface{}) error {
		return s.RecordEvent(ctx, name, payload)
	}
}

// Attach records the given events, or every built in event when none are
// named.
func (s *Store) Attach(h *dronesdk.EventHandler, events ...string) []dronesdk.SubscriptionID {
	if len(events) == 0 {
		events = dronesdk.BuiltinEvents
	}
	ids := make([]dronesdk.SubscriptionID, 0, len(events))
	for _, event := range events {
		ids = append(ids, h.On(event, s.EventCallback(event)))
	}
	return ids
}

func (s *Store) RecordState(ctx context.Context, st dronesdk.FusedState) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, insertStateSQL,
		s.now().UTC(),
		st.Latitude,
		st.Longitude,
		st.Altitude,
		st.DistanceTraveled,
		st.BatteryRemaining,
		st.BatteryConsumption,
		st.Roll,
		st.Pitch,
		st.Yaw,
		st.HDOP,
		st.Vibration,
	)
	return errors.Wrap(err, "inserting state")
}

func (s *Store) Events(ctx context.Context) (events []EventRecord, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, selectEventsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "querying events")
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var e EventRecord
		var payload sql.NullString
		if err = rows.Scan(&e.ID, &e.Timestamp, &e.Name, &payload); err != nil {
			return nil, errors.Wrap(err, "scanning event")
		}
		if payload.Valid {
			e.Payload = &payload.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// States returns up to limit of the most recent states, newest first.
func (s *Store) States(ctx context.Context, limit int) (states []StateRecord, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, selectStatesSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying states")
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var r StateRecord
		st := &r.State
		if err = rows.Scan(&r.ID, &r.Timestamp,
			&st.Latitude, &st.Longitude, &st.Altitude, &st.DistanceTraveled,
			&st.BatteryRemaining, &st.BatteryConsumption,
			&st.Roll, &st.Pitch, &st.Yaw, &st.HDOP, &st.Vibration); err != nil {
			return nil, errors.Wrap(err, "scanning state")
		}
		states = append(states, r)
	}
	return states, rows.Err()
}

// StateForwarder records every nth state handed to it by a drone.
type StateForwarder struct {
	store *Store
	every int64
	count atomic.Int64
}

func (s *Store) Forwarder(every int) *StateForwarder {
	if every < 1 {
		every = 1
	}
	return &StateForwarder{store: s, every: int64(every)}
}

func (f *StateForwarder) Forward(newState *dronesdk.FusedState, _ *dronesdk.FusedState) error {
	if (f.count.Inc()-1)%f.every != 0 {
		return nil
	}
	return f.store.RecordState(context.Background(), *newState)
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
			log.WithField("path", s.dbPath).Debug("flight log closed")
		}
	})
	return s.closeErr
}
