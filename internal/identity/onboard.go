package identity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Member is one onboarded person and their platform identities.
type Member struct {
	MemberID     int64  `yaml:"member_id"`
	Name         string `yaml:"name"`
	DiscordID    string `yaml:"discord_id"`
	NotionUserID string `yaml:"notion_user_id"`
}

// LoadMembers reads an onboarding file:
//
//	members:
//	  - member_id: 1
//	    name: Ada
//	    discord_id: "111"
//	    notion_user_id: 6f1c...
func LoadMembers(path string) ([]Member, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, err, "reading %s", path)
	}
	var doc struct {
		Members []Member `yaml:"members"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, err, "parsing %s", path)
	}
	return doc.Members, nil
}

// ValidateMembers enforces unique member ids and one-to-one external ids.
func ValidateMembers(members []Member) error {
	ids := make(map[int64]bool)
	discord := make(map[string]int64)
	notion := make(map[string]int64)
	var problems []string
	for i, m := range members {
		if m.MemberID <= 0 {
			problems = append(problems, fmt.Sprintf("entry %d: member_id must be positive", i))
			continue
		}
		if strings.TrimSpace(m.Name) == "" {
			problems = append(problems, fmt.Sprintf("member %d: name is required", m.MemberID))
		}
		if ids[m.MemberID] {
			problems = append(problems, fmt.Sprintf("member %d: duplicate member_id", m.MemberID))
		}
		ids[m.MemberID] = true
		if prev, ok := discord[m.DiscordID]; ok && m.DiscordID != "" {
			problems = append(problems, fmt.Sprintf("discord id %s used by members %d and %d", m.DiscordID, prev, m.MemberID))
		}
		discord[m.DiscordID] = m.MemberID
		if prev, ok := notion[m.NotionUserID]; ok && m.NotionUserID != "" {
			problems = append(problems, fmt.Sprintf("notion user %s used by members %d and %d", m.NotionUserID, prev, m.MemberID))
		}
		notion[m.NotionUserID] = m.MemberID
	}
	if len(problems) > 0 {
		return apperrors.New(apperrors.ErrMapping, strings.Join(problems, "; "))
	}
	return nil
}

// Onboard upserts members into schema.table, which must have the columns
// member_id, name, discord_id and notion_user_id with member_id unique.
func Onboard(ctx context.Context, conn db.TxBeginner, dialect db.Dialect, schema, table string, members []Member) (int, error) {
	if err := ValidateMembers(members); err != nil {
		return 0, err
	}
	if err := db.CheckIdents(schema, table); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrMapping, err, "onboarding target")
	}
	query := fmt.Sprintf(`INSERT INTO %s (member_id, name, discord_id, notion_user_id) VALUES (%s)
		ON CONFLICT (member_id) DO UPDATE SET
			name = excluded.name,
			discord_id = excluded.discord_id,
			notion_user_id = excluded.notion_user_id`,
		db.Qualified(schema, table), db.Placeholders(dialect, 1, 4))

	err := db.InTx(ctx, conn, func(tx *sql.Tx) error {
		for _, m := range members {
			if _, err := tx.ExecContext(ctx, query, m.MemberID, m.Name, nullable(m.DiscordID), nullable(m.NotionUserID)); err != nil {
				return fmt.Errorf("upserting member %d: %w", m.MemberID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrMapping, err, "onboarding members")
	}
	slog.Default().With("component", "identity-onboard").Info("members onboarded",
		"table", schema+"."+table, "count", len(members))
	return len(members), nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
