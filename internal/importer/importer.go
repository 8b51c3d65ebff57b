// Package importer reads customer, product and purchase files into a
// store.Batch. CSV headers are matched case-insensitively; JSON files are
// checked against the bundled schemas before decoding.
package importer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/temcen/hybridrec/internal/store"
	"github.com/temcen/hybridrec/internal/validation"
	"github.com/temcen/hybridrec/pkg/models"
)

type Kind string

const (
	KindCustomers Kind = "customers"
	KindProducts  Kind = "products"
	KindPurchases Kind = "purchases"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// maxReportedProblems caps the row problems listed in one error.
const maxReportedProblems = 20

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
}

// FormatFromPath derives the file format from its extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported file type %q, use .csv or .json",
			models.ErrInvalidInput, filepath.Ext(path))
	}
}

// Reader parses import files.
type Reader struct {
	validate *validator.Validate
	schemas  *validation.SchemaValidator
	title    cases.Caser
	logger   *logrus.Logger
	now      func() time.Time
}

func NewReader(schemas *validation.SchemaValidator, logger *logrus.Logger) *Reader {
	return &Reader{
		validate: validator.New(),
		schemas:  schemas,
		title:    cases.Title(language.English),
		logger:   logger,
		now:      time.Now,
	}
}

// Read parses one file of the given kind and appends its records to batch.
// Any invalid row rejects the whole file.
func (r *Reader) Read(kind Kind, format Format, src io.Reader, batch *store.Batch) error {
	switch format {
	case FormatCSV:
		return r.readCSV(kind, src, batch)
	case FormatJSON:
		return r.readJSON(kind, src, batch)
	default:
		return fmt.Errorf("%w: unknown format %q", models.ErrInvalidInput, format)
	}
}

type problems struct {
	kind  Kind
	items []string
	total int
}

func (p *problems) add(row int, format string, args ...interface{}) {
	p.total++
	if len(p.items) < maxReportedProblems {
		p.items = append(p.items, fmt.Sprintf("row %d: ", row)+fmt.Sprintf(format, args...))
	}
}

func (p *problems) err() error {
	if p.total == 0 {
		return nil
	}
	msg := strings.Join(p.items, "; ")
	if p.total > len(p.items) {
		msg += fmt.Sprintf("; and %d more", p.total-len(p.items))
	}
	return fmt.Errorf("%w: %s: %s", models.ErrInvalidInput, p.kind, msg)
}

var requiredColumns = map[Kind][]string{
	KindCustomers: {"customer_id", "age", "gender", "location"},
	KindProducts:  {"product_id", "category", "price", "brand"},
	KindPurchases: {"customer_id", "product_id", "purchase_date", "price"},
}

// Header aliases used by the upstream data exports.
var columnAliases = map[string]string{
	"average_rating_of_similar_products": "avg_similar_rating",
	"product_rating":                     "rating",
	"customer_review_sentiment_score":    "sentiment",
	"sentiment_score":                    "sentiment",
	"geographical_location":              "geography",
	"product_name":                       "name",
}

func (r *Reader) readCSV(kind Kind, src io.Reader, batch *store.Batch) error {
	cr := csv.NewReader(src)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s file is empty", models.ErrInvalidInput, kind)
		}
		return fmt.Errorf("failed to read %s header: %w", kind, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if alias, ok := columnAliases[key]; ok {
			key = alias
		}
		columns[key] = i
	}

	var missing []string
	for _, col := range requiredColumns[kind] {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s file is missing required columns %v", models.ErrInvalidInput, kind, missing)
	}

	p := &problems{kind: kind}
	records, err := cr.ReadAll()
	if err != nil {
		return fmt.Errorf("%w: %s rows: %v", models.ErrInvalidInput, kind, err)
	}

	for i, record := range records {
		row := csvRow{values: record, columns: columns}
		line := i + 2 // header is line 1
		switch kind {
		case KindCustomers:
			if c, ok := r.customerFromCSV(row, line, p); ok {
				batch.Customers = append(batch.Customers, c)
			}
		case KindProducts:
			if prod, ok := r.productFromCSV(row, line, p); ok {
				batch.Products = append(batch.Products, prod)
			}
		case KindPurchases:
			if pur, ok := r.purchaseFromCSV(row, line, p); ok {
				batch.Purchases = append(batch.Purchases, pur)
			}
		default:
			return fmt.Errorf("%w: unknown kind %q", models.ErrInvalidInput, kind)
		}
	}

	if err := p.err(); err != nil {
		return err
	}
	r.dedupe(kind, batch)
	return nil
}

type csvRow struct {
	values  []string
	columns map[string]int
}

func (r csvRow) get(column string) string {
	i, ok := r.columns[column]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

func (r *Reader) customerFromCSV(row csvRow, line int, p *problems) (models.Customer, bool) {
	age, err := strconv.Atoi(row.get("age"))
	if err != nil {
		p.add(line, "age %q is not an integer", row.get("age"))
		return models.Customer{}, false
	}

	c := models.Customer{
		ID:       normalize(row.get("customer_id")),
		Age:      age,
		Gender:   r.normalizeGender(row.get("gender")),
		Location: normalize(row.get("location")),
	}
	if raw := row.get("registration_date"); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			p.add(line, "%v", err)
			return models.Customer{}, false
		}
		c.RegistrationDate = d
	} else {
		c.RegistrationDate = r.now().UTC().Truncate(24 * time.Hour)
	}

	return c, r.check(c, line, p)
}

func (r *Reader) productFromCSV(row csvRow, line int, p *problems) (models.Product, bool) {
	price, ok := parseFloat(row, "price", line, p, true)
	if !ok {
		return models.Product{}, false
	}
	rating, ok1 := parseFloat(row, "rating", line, p, false)
	similar, ok2 := parseFloat(row, "avg_similar_rating", line, p, false)
	sentiment, ok3 := parseFloat(row, "sentiment", line, p, false)
	holiday, ok4 := parseHoliday(row.get("holiday"), line, p)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return models.Product{}, false
	}

	prod := models.Product{
		ID:               normalize(row.get("product_id")),
		Name:             normalize(row.get("name")),
		Category:         normalize(row.get("category")),
		Subcategory:      normalize(row.get("subcategory")),
		Brand:            normalize(row.get("brand")),
		Price:            price,
		Rating:           rating,
		AvgSimilarRating: similar,
		Sentiment:        sentiment,
		Season:           normalize(row.get("season")),
		Holiday:          holiday,
		Geography:        normalize(row.get("geography")),
	}
	if prod.Name == "" {
		prod.Name = prod.Brand
	}

	return prod, r.check(prod, line, p)
}

func (r *Reader) purchaseFromCSV(row csvRow, line int, p *problems) (models.Purchase, bool) {
	price, ok := parseFloat(row, "price", line, p, true)
	if !ok {
		return models.Purchase{}, false
	}
	date, err := parseDate(row.get("purchase_date"))
	if err != nil {
		p.add(line, "%v", err)
		return models.Purchase{}, false
	}

	pur := models.Purchase{
		CustomerID: normalize(row.get("customer_id")),
		ProductID:  normalize(row.get("product_id")),
		Date:       date,
		Price:      price,
	}
	return pur, r.check(pur, line, p)
}

type jsonCustomer struct {
	ID               string `json:"customer_id"`
	Age              int    `json:"age"`
	Gender           string `json:"gender"`
	Location         string `json:"location"`
	RegistrationDate string `json:"registration_date"`
}

type jsonPurchase struct {
	CustomerID string  `json:"customer_id"`
	ProductID  string  `json:"product_id"`
	Date       string  `json:"purchase_date"`
	Price      float64 `json:"price"`
}

func (r *Reader) readJSON(kind Kind, src io.Reader, batch *store.Batch) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("failed to read %s file: %w", kind, err)
	}

	if r.schemas != nil {
		if err := r.schemas.Validate(string(kind), data).Err(); err != nil {
			return fmt.Errorf("%s file: %w", kind, err)
		}
	}

	p := &problems{kind: kind}
	switch kind {
	case KindCustomers:
		var records []jsonCustomer
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("%w: %s file: %v", models.ErrInvalidInput, kind, err)
		}
		for i, rec := range records {
			c := models.Customer{
				ID:       normalize(rec.ID),
				Age:      rec.Age,
				Gender:   r.normalizeGender(rec.Gender),
				Location: normalize(rec.Location),
			}
			if rec.RegistrationDate != "" {
				d, err := parseDate(rec.RegistrationDate)
				if err != nil {
					p.add(i+1, "%v", err)
					continue
				}
				c.RegistrationDate = d
			} else {
				c.RegistrationDate = r.now().UTC().Truncate(24 * time.Hour)
			}
			if r.check(c, i+1, p) {
				batch.Customers = append(batch.Customers, c)
			}
		}

	case KindProducts:
		var records []models.Product
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("%w: %s file: %v", models.ErrInvalidInput, kind, err)
		}
		for i, prod := range records {
			prod.ID = normalize(prod.ID)
			prod.Name = normalize(prod.Name)
			prod.Category = normalize(prod.Category)
			prod.Subcategory = normalize(prod.Subcategory)
			prod.Brand = normalize(prod.Brand)
			prod.Season = normalize(prod.Season)
			prod.Geography = normalize(prod.Geography)
			if prod.Name == "" {
				prod.Name = prod.Brand
			}
			if r.check(prod, i+1, p) {
				batch.Products = append(batch.Products, prod)
			}
		}

	case KindPurchases:
		var records []jsonPurchase
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("%w: %s file: %v", models.ErrInvalidInput, kind, err)
		}
		for i, rec := range records {
			date, err := parseDate(rec.Date)
			if err != nil {
				p.add(i+1, "%v", err)
				continue
			}
			pur := models.Purchase{
				CustomerID: normalize(rec.CustomerID),
				ProductID:  normalize(rec.ProductID),
				Date:       date,
				Price:      rec.Price,
			}
			if r.check(pur, i+1, p) {
				batch.Purchases = append(batch.Purchases, pur)
			}
		}

	default:
		return fmt.Errorf("%w: unknown kind %q", models.ErrInvalidInput, kind)
	}

	if err := p.err(); err != nil {
		return err
	}
	r.dedupe(kind, batch)
	return nil
}

func (r *Reader) check(record interface{}, line int, p *problems) bool {
	if err := r.validate.Struct(record); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				p.add(line, "field %s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
			}
		} else {
			p.add(line, "%v", err)
		}
		return false
	}
	return true
}

// dedupe keeps the first customer and product of each id.
func (r *Reader) dedupe(kind Kind, batch *store.Batch) {
	switch kind {
	case KindCustomers:
		seen := make(map[string]struct{}, len(batch.Customers))
		kept := batch.Customers[:0]
		for _, c := range batch.Customers {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			kept = append(kept, c)
		}
		r.logDropped(kind, len(batch.Customers)-len(kept))
		batch.Customers = kept

	case KindProducts:
		seen := make(map[string]struct{}, len(batch.Products))
		kept := batch.Products[:0]
		for _, prod := range batch.Products {
			if _, dup := seen[prod.ID]; dup {
				continue
			}
			seen[prod.ID] = struct{}{}
			kept = append(kept, prod)
		}
		r.logDropped(kind, len(batch.Products)-len(kept))
		batch.Products = kept
	}
}

func (r *Reader) logDropped(kind Kind, dropped int) {
	if dropped > 0 {
		r.logger.WithFields(logrus.Fields{
			"kind":    kind,
			"dropped": dropped,
		}).Warn("Dropped duplicate records, keeping first occurrence")
	}
}

func (r *Reader) normalizeGender(s string) string {
	return r.title.String(strings.ToLower(normalize(s)))
}

// normalize trims and composes unicode so equal labels compare equal.
func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func parseFloat(row csvRow, column string, line int, p *problems, required bool) (float64, bool) {
	raw := row.get(column)
	if raw == "" && !required {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.add(line, "%s %q is not numeric", column, raw)
		return 0, false
	}
	return v, true
}

func parseHoliday(raw string, line int, p *problems) (bool, bool) {
	switch strings.ToLower(raw) {
	case "", "no", "false", "0":
		return false, true
	case "yes", "true", "1":
		return true, true
	}
	p.add(line, "holiday %q is not yes/no", raw)
	return false, false
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is not in a supported format", raw)
}
