// Package benchmark contains Go benchmarks for the staging writer, record
// flattening and identity resolution, measuring throughput and allocation
// behaviour.
package benchmark

import (
	"fmt"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/ddl"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/staging"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db/dbtest"
)

func chatRows(n int) []record.Record {
	now := time.Now().UTC()
	rows := make([]record.Record, n)
	for i := range rows {
		rows[i] = record.Record{
			"channel_id":          record.String("c1"),
			"message_id":          record.String(fmt.Sprintf("%d", i+1)),
			"discord_user_id":     record.String("111"),
			"content":             record.String("benchmark message body with a handful of words"),
			"chat_created_at":     record.Time(now.Add(time.Duration(i) * time.Second)),
			"is_thread":           record.Bool(false),
			"ingestion_timestamp": record.Time(now),
		}
	}
	return rows
}

// BenchmarkWriterReplace measures a full replace of discord_chats for
// different batch sizes.
func BenchmarkWriterReplace(b *testing.B) {
	for _, batch := range []int{50, 500, 5000} {
		b.Run(fmt.Sprintf("batch_%d", batch), func(b *testing.B) {
			client := dbtest.NewSQLite(b)
			def, err := schema.NewManager(client.Dialect).Ensure(b.Context(), client.DB,
				ddl.MustStatement("bronze", "discord_chats"), "bronze", "discord_chats")
			if err != nil {
				b.Fatal(err)
			}
			rows := chatRows(5000)
			w := staging.NewWriter(client.Dialect, batch)

			b.ReportAllocs()
			b.ResetTimer()
			for b.Loop() {
				if _, err := w.Write(b.Context(), client.DB, def, rows, staging.ModeReplace); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkWriterAppend measures appending 1 000 rows per call.
func BenchmarkWriterAppend(b *testing.B) {
	client := dbtest.NewSQLite(b)
	def, err := schema.NewManager(client.Dialect).Ensure(b.Context(), client.DB,
		ddl.MustStatement("bronze", "discord_chats"), "bronze", "discord_chats")
	if err != nil {
		b.Fatal(err)
	}
	rows := chatRows(1000)
	w := staging.NewWriter(client.Dialect, 500)

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		if _, err := w.Write(b.Context(), client.DB, def, rows, staging.ModeAppend); err != nil {
			b.Fatal(err)
		}
	}
}
