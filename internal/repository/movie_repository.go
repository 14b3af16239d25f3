package repository

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

type MovieRepository struct {
	db *sql.DB
}

func NewMovieRepository(db *sql.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

const movieColumns = `id, library_id, file_path, tmdb_id, imdb_id, tvdb_id, title, original_title,
	sort_title, year, plot, tagline, runtime, content_rating, release_date, popularity, budget,
	revenue, language, status, trailer_url, locked_fields, state, monitored, nfo_parsed_at,
	last_enriched_at, published_at, published_nfo_hash, delete_after, created_at, updated_at`

func scanMovie(row interface{ Scan(...interface{}) error }) (*models.Movie, error) {
	m := &models.Movie{}
	var locked []byte
	err := row.Scan(&m.ID, &m.LibraryID, &m.FilePath, &m.TmdbID, &m.ImdbID, &m.TvdbID, &m.Title,
		&m.OriginalTitle, &m.SortTitle, &m.Year, &m.Plot, &m.Tagline, &m.Runtime, &m.ContentRating,
		&m.ReleaseDate, &m.Popularity, &m.Budget, &m.Revenue, &m.Language, &m.Status, &m.TrailerURL,
		&locked, &m.State, &m.Monitored, &m.NfoParsedAt, &m.LastEnrichedAt, &m.PublishedAt,
		&m.PublishedNfoHash, &m.DeleteAfter, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(locked) > 0 {
		if err := json.Unmarshal(locked, &m.LockedFields); err != nil {
			return nil, errkind.Wrap(errkind.KindSchemaMismatch, "decode locked_fields", err)
		}
	}
	return m, nil
}

func (r *MovieRepository) GetByID(id int64) (*models.Movie, error) {
	m, err := scanMovie(r.db.QueryRow(`SELECT `+movieColumns+` FROM movies WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, errkind.Newf(errkind.KindNotFound, "movie %d not found", id)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get movie", err)
	}
	return m, nil
}

func (r *MovieRepository) GetByPath(path string) (*models.Movie, error) {
	m, err := scanMovie(r.db.QueryRow(`SELECT `+movieColumns+` FROM movies WHERE file_path = $1`, path))
	if err == sql.ErrNoRows {
		return nil, errkind.Newf(errkind.KindNotFound, "no movie at %s", path)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get movie by path", err)
	}
	return m, nil
}

// GetByExternalID resolves a movie by any of its correlation ids, in the
// order tmdb, imdb, tvdb.
func (r *MovieRepository) GetByExternalID(tmdbID *int64, imdbID *string, tvdbID *int64) (*models.Movie, error) {
	var row *sql.Row
	switch {
	case tmdbID != nil:
		row = r.db.QueryRow(`SELECT `+movieColumns+` FROM movies WHERE tmdb_id = $1`, *tmdbID)
	case imdbID != nil:
		row = r.db.QueryRow(`SELECT `+movieColumns+` FROM movies WHERE imdb_id = $1`, *imdbID)
	case tvdbID != nil:
		row = r.db.QueryRow(`SELECT `+movieColumns+` FROM movies WHERE tvdb_id = $1`, *tvdbID)
	default:
		return nil, errkind.New(errkind.KindRequiredField, "at least one external id is required")
	}
	m, err := scanMovie(row)
	if err == sql.ErrNoRows {
		return nil, errkind.New(errkind.KindNotFound, "movie not found by external id")
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get movie by external id", err)
	}
	return m, nil
}

func (r *MovieRepository) ListByLibrary(libraryID int64) ([]*models.Movie, error) {
	rows, err := r.db.Query(`SELECT `+movieColumns+` FROM movies WHERE library_id = $1 ORDER BY id`, libraryID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list movies", err)
	}
	defer rows.Close()
	var out []*models.Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.KindQueryFailed, "scan movie", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create inserts a movie discovered by the scanner.
func (r *MovieRepository) Create(m *models.Movie) error {
	locked, _ := json.Marshal(m.LockedFields)
	if m.State == "" {
		m.State = models.StateNeedsIdentification
	}
	err := r.db.QueryRow(`INSERT INTO movies
		(library_id, file_path, tmdb_id, imdb_id, tvdb_id, title, year, state, monitored, locked_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		m.LibraryID, m.FilePath, m.TmdbID, m.ImdbID, m.TvdbID, m.Title, m.Year, m.State, m.Monitored, locked).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return errkind.Classify(err)
	}
	return nil
}

// MetadataUpdate carries the enrichment-writable scalar fields. Nil pointers
// leave the column untouched.
type MetadataUpdate struct {
	Title         *string
	OriginalTitle *string
	SortTitle     *string
	Year          *int
	Plot          *string
	Tagline       *string
	ContentRating *string
	ReleaseDate   *time.Time
	Popularity    *float64
	Budget        *int64
	Revenue       *int64
	Language      *string
	Status        *string
	TrailerURL    *string
	TmdbID        *int64
	ImdbID        *string
	TvdbID        *int64
}

// lockNames maps update struct members to the user-visible lock names.
var metadataFieldColumns = []struct {
	lock   string
	column string
	value  func(*MetadataUpdate) interface{}
}{
	{"title", "title", func(u *MetadataUpdate) interface{} { return u.Title }},
	{"original_title", "original_title", func(u *MetadataUpdate) interface{} { return u.OriginalTitle }},
	{"sort_title", "sort_title", func(u *MetadataUpdate) interface{} { return u.SortTitle }},
	{"year", "year", func(u *MetadataUpdate) interface{} { return u.Year }},
	{"plot", "plot", func(u *MetadataUpdate) interface{} { return u.Plot }},
	{"tagline", "tagline", func(u *MetadataUpdate) interface{} { return u.Tagline }},
	{"content_rating", "content_rating", func(u *MetadataUpdate) interface{} { return u.ContentRating }},
	{"release_date", "release_date", func(u *MetadataUpdate) interface{} { return u.ReleaseDate }},
	{"popularity", "popularity", func(u *MetadataUpdate) interface{} { return u.Popularity }},
	{"budget", "budget", func(u *MetadataUpdate) interface{} { return u.Budget }},
	{"revenue", "revenue", func(u *MetadataUpdate) interface{} { return u.Revenue }},
	{"language", "language", func(u *MetadataUpdate) interface{} { return u.Language }},
	{"status", "status", func(u *MetadataUpdate) interface{} { return u.Status }},
	{"trailer", "trailer_url", func(u *MetadataUpdate) interface{} { return u.TrailerURL }},
	{"tmdb_id", "tmdb_id", func(u *MetadataUpdate) interface{} { return u.TmdbID }},
	{"imdb_id", "imdb_id", func(u *MetadataUpdate) interface{} { return u.ImdbID }},
	{"tvdb_id", "tvdb_id", func(u *MetadataUpdate) interface{} { return u.TvdbID }},
}

func isNilPtr(v interface{}) bool {
	switch p := v.(type) {
	case *string:
		return p == nil
	case *int:
		return p == nil
	case *int64:
		return p == nil
	case *float64:
		return p == nil
	case *time.Time:
		return p == nil
	}
	return v == nil
}

// ApplyMetadataWithLocks writes the non-nil update fields, skipping every
// field the movie has locked. Returns the list of columns written.
func (r *MovieRepository) ApplyMetadataWithLocks(m *models.Movie, u *MetadataUpdate) ([]string, error) {
	query := `UPDATE movies SET updated_at = NOW()`
	var args []interface{}
	var written []string
	for _, f := range metadataFieldColumns {
		v := f.value(u)
		if isNilPtr(v) || m.IsFieldLocked(f.lock) {
			continue
		}
		args = append(args, v)
		query += ", " + f.column + " = $" + strconv.Itoa(len(args))
		written = append(written, f.column)
	}
	args = append(args, m.ID)
	query += " WHERE id = $" + strconv.Itoa(len(args))
	if _, err := r.db.Exec(query, args...); err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "apply metadata", err)
	}
	return written, nil
}

func (r *MovieRepository) UpdateState(id int64, state models.MovieState) error {
	_, err := r.db.Exec(`UPDATE movies SET state = $1, updated_at = NOW() WHERE id = $2`, state, id)
	return errorOrNil(err, "update state")
}

func (r *MovieRepository) SetEnriched(id int64) error {
	_, err := r.db.Exec(`UPDATE movies SET state = $1, last_enriched_at = NOW(), updated_at = NOW() WHERE id = $2`,
		models.StateEnriched, id)
	return errorOrNil(err, "mark enriched")
}

func (r *MovieRepository) SetPublished(id int64, nfoHash string) error {
	_, err := r.db.Exec(`UPDATE movies SET state = $1, published_at = NOW(), published_nfo_hash = $2,
		updated_at = NOW() WHERE id = $3`, models.StatePublished, nfoHash, id)
	return errorOrNil(err, "mark published")
}

func (r *MovieRepository) SetNfoParsed(id int64) error {
	_, err := r.db.Exec(`UPDATE movies SET nfo_parsed_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return errorOrNil(err, "mark nfo parsed")
}

// MarkForDeletion starts the soft-delete grace window.
func (r *MovieRepository) MarkForDeletion(id int64, after time.Time) error {
	_, err := r.db.Exec(`UPDATE movies SET delete_after = $1, monitored = FALSE, updated_at = NOW() WHERE id = $2`,
		after, id)
	return errorOrNil(err, "mark for deletion")
}

func (r *MovieRepository) SetLockedFields(id int64, fields []string) error {
	locked, _ := json.Marshal(fields)
	_, err := r.db.Exec(`UPDATE movies SET locked_fields = $1, updated_at = NOW() WHERE id = $2`, locked, id)
	return errorOrNil(err, "set locked fields")
}

func (r *MovieRepository) SetRating(movieID int64, rating models.MovieRating) error {
	_, err := r.db.Exec(`INSERT INTO movie_ratings (movie_id, source, value, votes, max)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (movie_id, source) DO UPDATE SET value = $3, votes = $4, max = $5`,
		movieID, rating.Source, rating.Value, rating.Votes, rating.Max)
	return errorOrNil(err, "set rating")
}

func (r *MovieRepository) ListRatings(movieID int64) ([]models.MovieRating, error) {
	rows, err := r.db.Query(`SELECT movie_id, source, value, votes, max FROM movie_ratings
		WHERE movie_id = $1 ORDER BY source`, movieID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list ratings", err)
	}
	defer rows.Close()
	var out []models.MovieRating
	for rows.Next() {
		var mr models.MovieRating
		if err := rows.Scan(&mr.MovieID, &mr.Source, &mr.Value, &mr.Votes, &mr.Max); err != nil {
			return nil, err
		}
		out = append(out, mr)
	}
	return out, rows.Err()
}

func errorOrNil(err error, op string) error {
	if err != nil {
		return errkind.Wrap(errkind.KindQueryFailed, op, err)
	}
	return nil
}
