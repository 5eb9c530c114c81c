package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"meeting-live/internal/config"
	"meeting-live/internal/db"

	"gorm.io/gorm/clause"
)

const batchSize = 200

func main() {
	filePath := flag.String("file", "directory.csv", "csv with participant_id,name,department,avatar_url")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	conn, err := db.Open(cfg)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	file, err := os.Open(*filePath)
	if err != nil {
		log.Fatalf("open %s: %v", *filePath, err)
	}
	defer file.Close()
	entries, err := readEntries(file)
	if err != nil {
		log.Fatalf("failed to read directory: %v", err)
	}

	if len(entries) == 0 {
		log.Printf("no directory entries in %s", *filePath)
		return
	}

	err = conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "department", "avatar_url", "updated_at"}),
	}).CreateInBatches(entries, batchSize).Error
	if err != nil {
		log.Fatalf("failed to upsert directory: %v", err)
	}
	log.Printf("loaded %d directory entries", len(entries))
}

// readEntries skips the header row and rows without an id or name. A later row
// for the same id replaces an earlier one.
func readEntries(r io.Reader) ([]db.DirectoryEntry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var entries []db.DirectoryEntry
	index := make(map[string]int)
	for line := 0; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		if line == 0 || len(row) < 2 {
			continue
		}
		entry := db.DirectoryEntry{
			ParticipantID: strings.TrimSpace(row[0]),
			Name:          strings.TrimSpace(row[1]),
		}
		if entry.ParticipantID == "" || entry.Name == "" {
			continue
		}
		if len(row) > 2 {
			entry.Department = strings.TrimSpace(row[2])
		}
		if len(row) > 3 {
			entry.AvatarURL = strings.TrimSpace(row[3])
		}
		if i, ok := index[entry.ParticipantID]; ok {
			entries[i] = entry
			continue
		}
		index[entry.ParticipantID] = len(entries)
		entries = append(entries, entry)
	}
	return entries, nil
}
