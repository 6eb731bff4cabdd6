package chunk

import "strings"

// Segment is a transcript segment with playback times in seconds.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// TimedChunk is a group of transcript segments merged into one chunk,
// keeping the playback range of the merged segments.
type TimedChunk struct {
	Text      string
	Index     int
	StartTime float64
	EndTime   float64
}

// ChunkSegments merges transcript segments greedily: segments are appended
// to the current chunk until adding the next one would exceed Size, at which
// point the chunk is sealed and the segment starts a new one. Segment
// boundaries are never split, so a single oversized segment becomes its own
// chunk.
func (c *Chunker) ChunkSegments(segments []Segment) []TimedChunk {
	if len(segments) == 0 {
		return nil
	}

	var chunks []TimedChunk
	current := TimedChunk{Index: 0}
	started := false

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		if !started {
			current.StartTime = seg.Start
			started = true
		}

		potential := text
		if current.Text != "" {
			potential = current.Text + " " + text
		}

		if len([]rune(potential)) > c.Size {
			if current.Text != "" {
				chunks = append(chunks, current)
			}
			current = TimedChunk{
				Text:      text,
				Index:     len(chunks),
				StartTime: seg.Start,
				EndTime:   seg.End,
			}
		} else {
			current.Text = strings.TrimSpace(potential)
			current.EndTime = seg.End
		}
	}

	if current.Text != "" {
		chunks = append(chunks, current)
	}

	return chunks
}
