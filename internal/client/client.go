// Package client is the typed surface over the query and mutation engine.
// Each entity gets a Collection exposing find, create, update, upsert,
// delete, and aggregate operations; Transaction scopes a callback to one
// store transaction.
package client

import (
	"context"

	"agencydb/internal/domain"
	"agencydb/internal/domain/models"
	"agencydb/internal/engine"
	"agencydb/internal/store"
)

// Client bundles one Collection per entity over a shared engine.
type Client struct {
	eng *engine.Engine

	User                    Collection[models.User]
	NotificationPreferences Collection[models.NotificationPreferences]
	Project                 Collection[models.Project]
	Task                    Collection[models.Task]
	Client                  Collection[models.Client]
	Contact                 Collection[models.Contact]
	Timesheet               Collection[models.Timesheet]
	CalendarEvent           Collection[models.CalendarEvent]
	ActivityLog             Collection[models.ActivityLog]
}

// New wires a client over the engine.
func New(eng *engine.Engine) *Client {
	return &Client{
		eng:                     eng,
		User:                    Collection[models.User]{eng: eng, entity: "user"},
		NotificationPreferences: Collection[models.NotificationPreferences]{eng: eng, entity: "notificationPreferences"},
		Project:                 Collection[models.Project]{eng: eng, entity: "project"},
		Task:                    Collection[models.Task]{eng: eng, entity: "task"},
		Client:                  Collection[models.Client]{eng: eng, entity: "client"},
		Contact:                 Collection[models.Contact]{eng: eng, entity: "contact"},
		Timesheet:               Collection[models.Timesheet]{eng: eng, entity: "timesheet"},
		CalendarEvent:           Collection[models.CalendarEvent]{eng: eng, entity: "calendarEvent"},
		ActivityLog:             Collection[models.ActivityLog]{eng: eng, entity: "activityLog"},
	}
}

// Engine exposes the underlying engine for callers that work with untyped
// records, such as the HTTP handlers.
func (c *Client) Engine() *engine.Engine { return c.eng }

// Transaction runs fn inside one store transaction. Operations issued through
// the client with the callback's context join that transaction, and an error
// from fn rolls everything back.
func (c *Client) Transaction(ctx context.Context, opts store.TxOptions, fn func(ctx context.Context) error) error {
	return c.eng.Transaction(ctx, opts, fn)
}

// QueryRaw runs a parameterized SQL query against the backing database.
// Only the postgres driver supports this.
func (c *Client) QueryRaw(ctx context.Context, sql string, args ...any) ([]store.Record, error) {
	q, err := c.querier()
	if err != nil {
		return nil, err
	}
	return q.QueryRaw(ctx, sql, args...)
}

// ExecuteRaw runs a parameterized SQL statement and reports affected rows.
func (c *Client) ExecuteRaw(ctx context.Context, sql string, args ...any) (int64, error) {
	q, err := c.querier()
	if err != nil {
		return 0, err
	}
	return q.ExecRaw(ctx, sql, args...)
}

// QueryRawUnsafe is QueryRaw without parameter binding. The caller owns
// escaping.
func (c *Client) QueryRawUnsafe(ctx context.Context, sql string) ([]store.Record, error) {
	return c.QueryRaw(ctx, sql)
}

// ExecuteRawUnsafe is ExecuteRaw without parameter binding.
func (c *Client) ExecuteRawUnsafe(ctx context.Context, sql string) (int64, error) {
	return c.ExecuteRaw(ctx, sql)
}

func (c *Client) querier() (store.SQLQuerier, error) {
	if q, ok := c.eng.Store().(store.SQLQuerier); ok {
		return q, nil
	}
	return nil, &domain.ValidationError{Message: "raw SQL requires the postgres store driver"}
}
