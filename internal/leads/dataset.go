// Package leads reads and validates lead datasets. Datasets are CSV files
// with at least a business name and an email column; header names are
// normalized so exports from different tools line up, and extra columns are
// carried through untouched.
package leads

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"leadflow/internal/types"
)

// Row is one raw dataset record. Validation happens later, during
// discovery, so a Row may carry a missing or malformed email.
type Row struct {
	BusinessName string
	Email        string
	ContactName  string
	Title        string
	Industry     string
	Extras       map[string]string
	Line         int // 1-based data row number, for skip reasons
}

// emailPattern matches the practical subset of addresses the tracker and
// transport can work with.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail checks the address grammar. The returned error is a
// ValidationError so discovery can skip the row with a reason.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &types.ValidationError{Field: "email", Reason: "missing email"}
	}
	if !emailPattern.MatchString(email) {
		return &types.ValidationError{Field: "email", Value: email, Reason: "malformed address"}
	}
	return nil
}

// NormalizeHeader folds a CSV header into snake_case, so "Business Name",
// "business-name" and "BUSINESS NAME" all key the same column.
func NormalizeHeader(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

// headerAliases maps normalized header names onto canonical Row fields.
var headerAliases = map[string]string{
	"business_name": "business_name",
	"company":       "business_name",
	"company_name":  "business_name",
	"email":         "email",
	"email_address": "email",
	"contact_name":  "contact_name",
	"name":          "contact_name",
	"title":         "title",
	"job_title":     "title",
	"industry":      "industry",
}

// ReadDataset parses the CSV dataset at path.
func ReadDataset(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	rows, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

// Parse reads CSV records from r. The first record is the header; rows may
// have fewer or extra fields than the header and are padded or truncated to
// fit. Zero data rows is not an error.
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty dataset")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = NormalizeHeader(h)
	}

	var rows []Row
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line+1, err)
		}
		line++

		row := Row{Line: line, Extras: make(map[string]string)}
		empty := true
		for i, col := range cols {
			if i >= len(record) {
				break
			}
			val := strings.TrimSpace(record[i])
			if val != "" {
				empty = false
			}
			switch headerAliases[col] {
			case "business_name":
				row.BusinessName = val
			case "email":
				row.Email = val
			case "contact_name":
				row.ContactName = val
			case "title":
				row.Title = val
			case "industry":
				row.Industry = val
			default:
				if col != "" && val != "" {
					row.Extras[col] = val
				}
			}
		}
		if empty {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LatestUpload returns the most recently modified dataset file in dir.
// Looks for .csv files only; anything else in the uploads directory is
// ignored.
func LatestUpload(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read uploads dir: %w", err)
	}
	type candidate struct {
		path string
		mod  int64
	}
	var found []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{
			path: filepath.Join(dir, e.Name()),
			mod:  info.ModTime().UnixNano(),
		})
	}
	if len(found) == 0 {
		return "", fmt.Errorf("no datasets in %s", dir)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod > found[j].mod })
	return found[0].path, nil
}
