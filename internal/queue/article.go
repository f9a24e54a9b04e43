package queue

// Article is the unit of fetch: one Usenet message identified by message-id.
// Articles hold the id of their parent file, never a pointer; the queue's
// arena maps resolve ownership.
type Article struct {
	MessageID string `json:"message_id"`
	Bytes     int64  `json:"bytes"`
	PartNum   int    `json:"part"`
	FileID    string `json:"file_id"`

	// TryList records servers that refused or failed this article.
	TryList map[string]bool `json:"try_list,omitempty"`

	// Fetcher is the server currently attempting the article; empty when
	// idle. An article has at most one fetcher at a time.
	Fetcher string `json:"-"`

	// Tries counts failed attempts on the current server.
	Tries int `json:"-"`

	Decoded bool `json:"decoded"`
	Lost    bool `json:"lost"`
}

func (a *Article) tried(serverID string) bool {
	return a.TryList[serverID]
}

func (a *Article) addTry(serverID string) {
	if a.TryList == nil {
		a.TryList = make(map[string]bool)
	}
	a.TryList[serverID] = true
}

// pending reports whether the article still needs fetching.
func (a *Article) pending() bool {
	return !a.Decoded && !a.Lost
}

// availableTo reports whether the given server may attempt this article.
// Optional (fill) servers are held back until every non-optional active
// server has failed it.
func (a *Article) availableTo(sv ServerView, actives []ServerView) bool {
	if !a.pending() || a.Fetcher != "" || a.tried(sv.ID) {
		return false
	}

	if sv.Optional {
		for _, other := range actives {
			if !other.Optional && !a.tried(other.ID) {
				return false
			}
		}
	}

	return true
}

// lostOn reports whether every active server is on the try-list.
func (a *Article) lostOn(actives []ServerView) bool {
	if len(actives) == 0 {
		return false
	}
	for _, sv := range actives {
		if !a.tried(sv.ID) {
			return false
		}
	}
	return true
}
