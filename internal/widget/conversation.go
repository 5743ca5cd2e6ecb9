package widget

import (
	"strings"

	"golang.org/x/net/html"
)

// Helpdesk author roles.
const (
	RoleEndUser = "end-user"
	RoleAgent   = "agent"
)

// Entry is one ticket comment as seen at snapshot time.
type Entry struct {
	AuthorName string `json:"authorName"`
	AuthorRole string `json:"authorRole"`
	Content    string `json:"content"` // may contain markup
}

// Snapshot is the ticket conversation, oldest first. Built per request, never stored.
type Snapshot []Entry

// Text renders the snapshot as one "Name (Customer|Agent): text" line per entry.
func (s Snapshot) Text() string {
	lines := make([]string, 0, len(s))
	for _, e := range s {
		label := "Agent"
		if e.AuthorRole == RoleEndUser {
			label = "Customer"
		}
		lines = append(lines, e.AuthorName+" ("+label+"): "+StripMarkup(e.Content))
	}
	return strings.Join(lines, "\n")
}

// LastFromEndUser reports whether the customer spoke last, which is when a
// suggestion is generated without the agent asking.
func (s Snapshot) LastFromEndUser() bool {
	if len(s) == 0 {
		return false
	}
	return s[len(s)-1].AuthorRole == RoleEndUser
}

// StripMarkup returns the text content of an HTML fragment with entities decoded.
func StripMarkup(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return fragment
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input: keep what was read
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

// ZendeskComment mirrors one element of the ticket.conversation payload the
// helpdesk hands to sidebar apps.
type ZendeskComment struct {
	Author struct {
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"author"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func FromZendesk(comments []ZendeskComment) Snapshot {
	s := make(Snapshot, 0, len(comments))
	for _, c := range comments {
		s = append(s, Entry{
			AuthorName: c.Author.Name,
			AuthorRole: c.Author.Role,
			Content:    c.Message.Content,
		})
	}
	return s
}
