package install

import (
	"io"

	"garrison/internal/domain"
)

// ProgressReader counts bytes flowing through Reader and reports every whole
// percent step to OnProgress.
type ProgressReader struct {
	Reader     io.Reader
	Total      int64
	Current    int64
	Message    string
	OnProgress func(domain.ProgressEvent)

	lastPercent int
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	pr.Current += int64(n)

	if pr.OnProgress != nil && pr.Total > 0 {
		percentage := float64(pr.Current) / float64(pr.Total) * 100
		if int(percentage) != pr.lastPercent || err == io.EOF {
			pr.lastPercent = int(percentage)
			pr.OnProgress(domain.ProgressEvent{
				Message:      pr.Message,
				Progress:     percentage,
				CurrentBytes: pr.Current,
				TotalBytes:   pr.Total,
			})
		}
	}

	return n, err
}
