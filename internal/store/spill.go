package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nzbdaemon/nzbd/internal/decoder"
)

// Spilled payloads live under admin/<job_id>/articles/<article>, one JSON
// envelope per article, so unassembled downloads survive a restart.

type spillEnvelope struct {
	Version   int    `json:"version"`
	MessageID string `json:"message_id"`
	Filename  string `json:"filename,omitempty"`
	PartBegin int64  `json:"part_begin"`
	PartEnd   int64  `json:"part_end"`
	Body      []byte `json:"body"`
}

func (s *Store) spillDir(jobID string) string {
	return filepath.Join(s.adminDir, jobID, "articles")
}

// SpillArticle writes one pending payload to the job's spill directory.
func (s *Store) SpillArticle(jobID string, p *decoder.Payload) error {
	dir := s.spillDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	env := spillEnvelope{
		Version:   schemaVersion,
		MessageID: p.MessageID,
		Filename:  p.Filename,
		PartBegin: p.PartBegin,
		PartEnd:   p.PartEnd,
		Body:      p.Body,
	}
	blob, err := json.Marshal(&env)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, spillName(p.MessageID)), blob, 0644)
}

// LoadSpilled reads a job's spilled payloads back and removes them from
// disk; they re-enter the article cache.
func (s *Store) LoadSpilled(jobID string) ([]*decoder.Payload, error) {
	dir := s.spillDir(jobID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var payloads []*decoder.Payload
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		blob, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		var env spillEnvelope
		if err := json.Unmarshal(blob, &env); err != nil {
			return nil, fmt.Errorf("%w: spilled article %s: %v", ErrNeedsRepair, entry.Name(), err)
		}
		if env.Version != schemaVersion {
			return nil, fmt.Errorf("%w: spilled article %s version %d", ErrNeedsRepair, entry.Name(), env.Version)
		}

		payloads = append(payloads, &decoder.Payload{
			MessageID: env.MessageID,
			Filename:  env.Filename,
			PartBegin: env.PartBegin,
			PartEnd:   env.PartEnd,
			Body:      env.Body,
			CRCOK:     true,
		})
	}

	_ = os.RemoveAll(dir)
	return payloads, nil
}

// spillName makes a message-id safe as a filename.
func spillName(messageID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "<", "", ">", "")
	return r.Replace(messageID)
}
