package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Row is one parsed CSV line keyed by header.
type Row map[string]string

// first returns the first non-empty value among keys.
func (r Row) first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r[k]); v != "" {
			return v
		}
	}
	return ""
}

// ParseQuestionsCSV reads a header row followed by data rows; blank lines are skipped
// and short rows leave the missing columns empty.
func ParseQuestionsCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read csv: %w", err)
		}
		if blank(record) {
			continue
		}
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// QuestionFromRow maps a CSV row with alias columns onto a validated question.
func QuestionFromRow(row Row, source domain.SourceType, userID string) (domain.Question, error) {
	correct := strings.ToUpper(row.first("correct_option", "correctOption", "answer"))
	if len(correct) > 1 {
		correct = correct[:1]
	}
	q := domain.Question{
		Text: row.first("question", "question_text"),
		Options: [4]string{
			row.first("option_a", "optionA", "a"),
			row.first("option_b", "optionB", "b"),
			row.first("option_c", "optionC", "c"),
			row.first("option_d", "optionD", "d"),
		},
		CorrectOption: correct,
		Explanation:   row.first("explanation"),
		Marks:         1,
		SourceType:    source,
		SourceID:      row.first("source_id", "test_id"),
		Subject:       row.first("subject"),
		Chapter:       row.first("chapter"),
		BookName:      row.first("book_name", "book"),
		CreatedBy:     userID,
	}
	if raw := row.first("marks"); raw != "" {
		marks, err := strconv.Atoi(raw)
		if err != nil {
			return q, &domain.ValidationError{Fields: map[string]string{"marks": "not a number"}}
		}
		q.Marks = marks
	}
	if raw := row.first("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return q, &domain.ValidationError{Fields: map[string]string{"year": "not a number"}}
		}
		q.Year = year
	}
	return q, domain.ValidateQuestion(q)
}

// UploadBulkQuestions inserts rows in fixed-size batches. A batch is stored or failed
// as a unit; a malformed row fails its whole batch. Cancellation counts the rows not
// yet attempted as failed.
func (c *Catalog) UploadBulkQuestions(ctx context.Context, rows []Row, source domain.SourceType, userID string) domain.BulkResult {
	var res domain.BulkResult
	defer func() {
		metrics.BulkRows.WithLabelValues("success").Add(float64(res.Success))
		metrics.BulkRows.WithLabelValues("failed").Add(float64(res.Failed))
	}()

	for start := 0; start < len(rows); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			res.Failed += len(rows) - start
			c.fail("bulk_upload", err)
			return res
		}
		end := start + c.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		questions, err := buildBatch(batch, start, source, userID)
		if err != nil {
			log.Warn().Err(err).Int("batchStart", start).Int("rows", len(batch)).Msg("bulk batch rejected")
			res.Failed += len(batch)
			continue
		}

		stored, err := c.backend.InsertQuestions(ctx, questions)
		if err != nil {
			c.fail("bulk_upload", err)
			res.Failed += len(batch)
			continue
		}
		res.Success += stored
		res.Failed += len(batch) - stored
		c.invalidate(ctx, questions...)
	}
	return res
}

func buildBatch(batch []Row, offset int, source domain.SourceType, userID string) ([]domain.Question, error) {
	out := make([]domain.Question, 0, len(batch))
	for i, row := range batch {
		q, err := QuestionFromRow(row, source, userID)
		if err != nil {
			// +2: one for the header, one for 1-based line numbers
			return nil, fmt.Errorf("row %d: %w", offset+i+2, err)
		}
		out = append(out, q)
	}
	return out, nil
}
