package silver

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/identity"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
)

// Project is a silver project with the roles one member holds in it.
type Project struct {
	ID        string     `json:"project_id"`
	Name      string     `json:"name"`
	Type      string     `json:"type,omitempty"`
	Priority  string     `json:"priority,omitempty"`
	Progress  *float64   `json:"progress,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Roles     []string   `json:"roles"`
}

// MemberActivity is the message count of one member.
type MemberActivity struct {
	MemberID int64  `json:"member_id"`
	Name     string `json:"name"`
	Messages int64  `json:"messages"`
}

// Queries answers cross-source questions over the silver tables. Lookups
// by external id re-read the mapping table on every call.
type Queries struct {
	conn     db.DBTX
	dialect  db.Dialect
	mappings map[string]config.MappingConfig
}

func NewQueries(conn db.DBTX, dialect db.Dialect, mappings map[string]config.MappingConfig) *Queries {
	return &Queries{conn: conn, dialect: dialect, mappings: mappings}
}

// ProjectsByMember returns the projects of every member whose name matches
// name, case-insensitively.
func (q *Queries) ProjectsByMember(ctx context.Context, name string) ([]Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "member name is required")
	}
	query := fmt.Sprintf(`SELECT p.project_id, p.name, p.type, p.priority, p.progress, p.start_date, p.end_date, pm.role
		FROM silver.project_members pm
		JOIN silver.project p ON p.project_id = pm.project_id
		JOIN silver.committee c ON c.member_id = pm.member_id
		WHERE LOWER(c.name) = LOWER(%s)`, q.dialect.Placeholder(1))
	return q.projects(ctx, query, name)
}

// ProjectsByExternalID resolves an external identity through the named
// mapping ("discord" or "notion") and returns that member's projects. An id
// with no member yields no projects.
func (q *Queries) ProjectsByExternalID(ctx context.Context, source, externalID string) ([]Project, error) {
	mc, ok := q.mappings[source]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "unknown identity source %q", source)
	}
	mapping, err := identity.NewResolver(q.conn).LoadMapping(ctx, mc.Schema, mc.Table, mc.KeyColumn, mc.ValueColumn)
	if err != nil {
		return nil, err
	}
	member, ok := mapping.Resolve(externalID)
	if !ok {
		return nil, nil
	}
	return q.ProjectsByMemberID(ctx, member)
}

// ProjectsByMemberID returns the projects linked to a member id.
func (q *Queries) ProjectsByMemberID(ctx context.Context, member int64) ([]Project, error) {
	query := fmt.Sprintf(`SELECT p.project_id, p.name, p.type, p.priority, p.progress, p.start_date, p.end_date, pm.role
		FROM silver.project_members pm
		JOIN silver.project p ON p.project_id = pm.project_id
		WHERE pm.member_id = %s`, q.dialect.Placeholder(1))
	return q.projects(ctx, query, member)
}

func (q *Queries) projects(ctx context.Context, query string, args ...any) ([]Project, error) {
	rows, err := db.QueryMaps(ctx, q.conn, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMapping, err, "querying projects")
	}
	byID := make(map[string]*Project)
	for _, r := range rows {
		id := record.FromAny(r["project_id"]).Str()
		p, ok := byID[id]
		if !ok {
			p = &Project{
				ID:        id,
				Name:      record.FromAny(r["name"]).Str(),
				Type:      record.FromAny(r["type"]).Str(),
				Priority:  record.FromAny(r["priority"]).Str(),
				Progress:  floatPtr(record.FromAny(r["progress"])),
				StartDate: timePtr(record.FromAny(r["start_date"])),
				EndDate:   timePtr(record.FromAny(r["end_date"])),
			}
			byID[id] = p
		}
		role := record.FromAny(r["role"]).Str()
		if !slices.Contains(p.Roles, role) {
			p.Roles = append(p.Roles, role)
		}
	}
	out := make([]Project, 0, len(byID))
	for _, p := range byID {
		sort.Strings(p.Roles)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MessageCounts returns every onboarded member with their silver message
// count, most active first.
func (q *Queries) MessageCounts(ctx context.Context) ([]MemberActivity, error) {
	rows, err := db.QueryMaps(ctx, q.conn, `SELECT c.member_id, c.name, COUNT(m.message_id) AS messages
		FROM silver.committee c
		LEFT JOIN silver.internal_msg_messages m ON m.member_id = c.member_id
		GROUP BY c.member_id, c.name
		ORDER BY messages DESC, c.member_id`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMapping, err, "counting messages")
	}
	out := make([]MemberActivity, 0, len(rows))
	for _, r := range rows {
		id, _ := record.FromAny(r["member_id"]).AsInt()
		n, _ := record.FromAny(r["messages"]).AsInt()
		out = append(out, MemberActivity{MemberID: id, Name: record.FromAny(r["name"]).Str(), Messages: n})
	}
	return out, nil
}

func floatPtr(v record.Value) *float64 {
	switch v.Kind() {
	case record.KindFloat, record.KindInt:
		f, _ := v.AsFloat()
		return &f
	}
	return nil
}

func timePtr(v record.Value) *time.Time {
	if t, ok := v.AsTime(); ok {
		return &t
	}
	return nil
}
