package queue

import (
	"sort"

	"github.com/nzbdaemon/nzbd/internal/nzb"
)

// File is one binary inside a job, reassembled from its articles. The real
// filename is often unknown until the first article header decodes.
type File struct {
	ID      string `json:"id"`
	JobID   string `json:"job_id"`
	Subject string `json:"subject"`

	// Filename starts as the sanitized subject and is replaced by the
	// name carried in the first yEnc header.
	Filename        string `json:"filename"`
	FilenameChecked bool   `json:"filename_checked"`

	Groups   []string   `json:"groups"`
	Articles []*Article `json:"articles"`

	BytesTotal int64 `json:"bytes_total"`
	BytesLeft  int64 `json:"bytes_left"`

	IsPar2  bool   `json:"is_par2"`
	SetName string `json:"setname,omitempty"`

	// MD5 of the assembled file, hex, filled by the assembler.
	MD5 string `json:"md5,omitempty"`

	Deleted bool `json:"-"`
}

func newFile(id, jobID string, src nzb.File) *File {
	name := nzb.SanitizeSubject(src.Subject)

	f := &File{
		ID:       id,
		JobID:    jobID,
		Subject:  src.Subject,
		Filename: name,
		Groups:   src.Groups,
	}

	if isPar2, setname := nzb.IsPar2(name); isPar2 {
		f.IsPar2 = true
		f.SetName = setname
	}

	for _, seg := range src.Segments {
		art := &Article{
			MessageID: seg.MessageID,
			Bytes:     seg.Bytes,
			PartNum:   seg.Number,
			FileID:    id,
		}
		f.Articles = append(f.Articles, art)
		f.BytesTotal += seg.Bytes
		f.BytesLeft += seg.Bytes
	}

	// Part order, so the part-1 header is fetched first and the assembler
	// consumes payloads in write order.
	sort.Slice(f.Articles, func(i, j int) bool {
		return f.Articles[i].PartNum < f.Articles[j].PartNum
	})

	return f
}

// done reports whether no article is still pending. Lost articles count as
// handled; the file then completes under-complete and PAR2 gets its chance.
func (f *File) done() bool {
	for _, a := range f.Articles {
		if a.pending() {
			return false
		}
	}
	return true
}

// SetFilename publishes the filename learned from an article header.
func (f *File) SetFilename(name string) {
	if f.FilenameChecked || name == "" {
		return
	}
	f.Filename = name
	f.FilenameChecked = true

	if isPar2, setname := nzb.IsPar2(name); isPar2 {
		f.IsPar2 = true
		f.SetName = setname
	}
}

// ArticleIDs returns the message-ids of all articles; used for cache
// eviction when a job is removed.
func (f *File) ArticleIDs() []string {
	ids := make([]string, 0, len(f.Articles))
	for _, a := range f.Articles {
		ids = append(ids, a.MessageID)
	}
	return ids
}

// DecodedIDs returns message-ids of successfully decoded articles in part
// order; the assembler pulls these from the cache.
func (f *File) DecodedIDs() []string {
	ids := make([]string, 0, len(f.Articles))
	for _, a := range f.Articles {
		if a.Decoded {
			ids = append(ids, a.MessageID)
		}
	}
	return ids
}
