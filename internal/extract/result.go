package extract

import "github.com/toricodesthings/compound-association-service/internal/tables"

type Job struct {
	LocalPath string
	FileName  string
	MIMEType  string
	FileSize  int64
	// Pages restricts extraction to these 1-based pages. Nil means all.
	Pages []int
}

type Result struct {
	Success   bool              `json:"success"`
	Text      string            `json:"text"`
	Method    string            `json:"method"`
	FileType  string            `json:"fileType"`
	MIMEType  string            `json:"mimeType"`
	Pages     []PageResult      `json:"pages,omitempty"`
	Tables    []tables.Table    `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	WordCount int               `json:"wordCount"`
	CharCount int               `json:"charCount"`
	Error     *string           `json:"error,omitempty"`
}

type PageResult struct {
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
	Method     string `json:"method"`
	WordCount  int    `json:"wordCount"`
}

// Failed builds an unsuccessful result carrying err's message.
func Failed(fileType, mimeType string, err error) Result {
	msg := err.Error()
	return Result{Success: false, FileType: fileType, MIMEType: mimeType, Error: &msg}
}

func BuildCounts(text string) (wordCount int, charCount int) {
	charCount = len([]rune(text))
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			if inWord {
				wordCount++
				inWord = false
			}
			continue
		}
		inWord = true
	}
	if inWord {
		wordCount++
	}
	return
}
