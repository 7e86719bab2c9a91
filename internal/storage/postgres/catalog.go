package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/salon-ai-platform/internal/salon"
)

// ErrServiceNotFound is returned when a requested service id is unknown or inactive.
var ErrServiceNotFound = errors.New("postgres: service not found")

// CatalogRepository reads services, business hours and holidays.
type CatalogRepository struct {
	db       Querier
	settings salon.SettingsProvider
}

// NewCatalogRepository creates the repository. settings supplies the schedule timezone.
func NewCatalogRepository(db Querier, settings salon.SettingsProvider) *CatalogRepository {
	if db == nil {
		panic("postgres: db required")
	}
	return &CatalogRepository{db: db, settings: settings}
}

// GetServices loads active services in the order requested.
func (r *CatalogRepository) GetServices(ctx context.Context, ids []string) ([]salon.Service, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `
SELECT id, name, category, duration_minutes, active
FROM services
WHERE id = ANY($1) AND active`
	rows, err := QuerierFrom(ctx, r.db).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get services: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]salon.Service, len(ids))
	for rows.Next() {
		var s salon.Service
		if err := rows.Scan(&s.ID, &s.Name, &s.Category, &s.DurationMinutes, &s.Active); err != nil {
			return nil, fmt.Errorf("postgres: scan service: %w", err)
		}
		byID[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get services: %w", err)
	}

	out := make([]salon.Service, 0, len(ids))
	var missing []string
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, s)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, strings.Join(missing, ","))
	}
	return out, nil
}

// LoadSchedule reads weekly hours and holidays, resolved in the configured salon timezone.
func (r *CatalogRepository) LoadSchedule(ctx context.Context) (salon.Schedule, error) {
	sched := salon.Schedule{Location: time.UTC}
	if r.settings != nil {
		cfg, err := r.settings.Settings(ctx)
		if err != nil {
			return salon.Schedule{}, fmt.Errorf("postgres: load schedule settings: %w", err)
		}
		sched.Location = cfg.Location()
	}

	q := QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, `SELECT weekday, open_time, close_time, closed FROM business_hours ORDER BY weekday`)
	if err != nil {
		return salon.Schedule{}, fmt.Errorf("postgres: load business hours: %w", err)
	}
	for rows.Next() {
		var (
			weekday         int16
			openAt, closeAt *string
			closed          bool
		)
		if err := rows.Scan(&weekday, &openAt, &closeAt, &closed); err != nil {
			rows.Close()
			return salon.Schedule{}, fmt.Errorf("postgres: scan business hours: %w", err)
		}
		if closed || openAt == nil || closeAt == nil {
			continue
		}
		sched.Hours.SetHoursForDay(time.Weekday(weekday), &salon.DayHours{Open: *openAt, Close: *closeAt})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return salon.Schedule{}, fmt.Errorf("postgres: load business hours: %w", err)
	}

	rows, err = q.Query(ctx, `SELECT holiday_date, name FROM holidays ORDER BY holiday_date`)
	if err != nil {
		return salon.Schedule{}, fmt.Errorf("postgres: load holidays: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			day  time.Time
			name string
		)
		if err := rows.Scan(&day, &name); err != nil {
			return salon.Schedule{}, fmt.Errorf("postgres: scan holiday: %w", err)
		}
		sched.Holidays = append(sched.Holidays, salon.Holiday{Date: day.Format(time.DateOnly), Name: name})
	}
	if err := rows.Err(); err != nil {
		return salon.Schedule{}, fmt.Errorf("postgres: load holidays: %w", err)
	}
	return sched, nil
}
