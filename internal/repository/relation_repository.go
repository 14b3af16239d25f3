package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

// RelationRepository manages people and the named many-to-many relations
// (genres, studios, countries, tags) hanging off a movie.
type RelationRepository struct {
	db *sql.DB
}

func NewRelationRepository(db *sql.DB) *RelationRepository {
	return &RelationRepository{db: db}
}

// NormalizeName lowercases and collapses internal whitespace; it is the
// de-duplication key for people.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// UpsertPerson finds or creates a person, matching by normalized name first
// and then by external person id.
func (r *RelationRepository) UpsertPerson(name string, externalID *int64, thumbURL *string) (*models.Person, error) {
	p := &models.Person{}
	err := r.db.QueryRow(`SELECT id, name, external_person_id, thumb_url, thumb_hash FROM people
		WHERE LOWER(name) = $1`, NormalizeName(name)).
		Scan(&p.ID, &p.Name, &p.ExternalPersonID, &p.ThumbURL, &p.ThumbHash)
	if err == nil {
		// Backfill external id and thumbnail when the provider knows more.
		if (p.ExternalPersonID == nil && externalID != nil) || (p.ThumbURL == nil && thumbURL != nil) {
			_, _ = r.db.Exec(`UPDATE people SET
				external_person_id = COALESCE(external_person_id, $1),
				thumb_url = COALESCE(thumb_url, $2) WHERE id = $3`, externalID, thumbURL, p.ID)
			if p.ExternalPersonID == nil {
				p.ExternalPersonID = externalID
			}
			if p.ThumbURL == nil {
				p.ThumbURL = thumbURL
			}
		}
		return p, nil
	}
	if err != sql.ErrNoRows {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "lookup person", err)
	}

	if externalID != nil {
		err = r.db.QueryRow(`SELECT id, name, external_person_id, thumb_url, thumb_hash FROM people
			WHERE external_person_id = $1`, *externalID).
			Scan(&p.ID, &p.Name, &p.ExternalPersonID, &p.ThumbURL, &p.ThumbHash)
		if err == nil {
			return p, nil
		}
		if err != sql.ErrNoRows {
			return nil, errkind.Wrap(errkind.KindQueryFailed, "lookup person by external id", err)
		}
	}

	p.Name = strings.TrimSpace(name)
	p.ExternalPersonID = externalID
	p.ThumbURL = thumbURL
	err = r.db.QueryRow(`INSERT INTO people (name, external_person_id, thumb_url) VALUES ($1, $2, $3) RETURNING id`,
		p.Name, externalID, thumbURL).Scan(&p.ID)
	if err != nil {
		return nil, errkind.Classify(err)
	}
	return p, nil
}

func (r *RelationRepository) SetPersonThumbHash(personID int64, hash string) error {
	_, err := r.db.Exec(`UPDATE people SET thumb_hash = $1 WHERE id = $2`, hash, personID)
	return errorOrNil(err, "set person thumb hash")
}

// ReplaceActors rewrites the full cast list for a movie.
func (r *RelationRepository) ReplaceActors(movieID int64, actors []models.MovieActor) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errkind.Wrap(errkind.KindTransactionFailed, "begin", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM movie_actors WHERE movie_id = $1`, movieID); err != nil {
		return errkind.Wrap(errkind.KindQueryFailed, "clear actors", err)
	}
	for _, a := range actors {
		if _, err := tx.Exec(`INSERT INTO movie_actors (movie_id, person_id, role, sort_order)
			VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			movieID, a.PersonID, a.Role, a.SortOrder); err != nil {
			return errkind.Wrap(errkind.KindQueryFailed, "insert actor", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errkind.Wrap(errkind.KindTransactionFailed, "commit", err)
	}
	return nil
}

// ReplaceCrew rewrites the directors or writers link table.
func (r *RelationRepository) ReplaceCrew(table string, movieID int64, personIDs []int64) error {
	if table != "movie_directors" && table != "movie_writers" {
		return errkind.Newf(errkind.KindInvalidState, "unknown crew table %q", table)
	}
	tx, err := r.db.Begin()
	if err != nil {
		return errkind.Wrap(errkind.KindTransactionFailed, "begin", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE movie_id = $1`, table), movieID); err != nil {
		return errkind.Wrap(errkind.KindQueryFailed, "clear crew", err)
	}
	for _, pid := range personIDs {
		if _, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (movie_id, person_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, table), movieID, pid); err != nil {
			return errkind.Wrap(errkind.KindQueryFailed, "insert crew", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errkind.Wrap(errkind.KindTransactionFailed, "commit", err)
	}
	return nil
}

// namedTables maps a relation kind to its (entity table, link table, fk column).
var namedTables = map[string][3]string{
	"genre":   {"genres", "movie_genres", "genre_id"},
	"studio":  {"studios", "movie_studios", "studio_id"},
	"country": {"countries", "movie_countries", "country_id"},
	"tag":     {"tags", "movie_tags", "tag_id"},
}

// ReplaceNamed rewrites one named relation (genre/studio/country/tag) for a
// movie, creating missing rows case-insensitively.
func (r *RelationRepository) ReplaceNamed(kind string, movieID int64, names []string) error {
	tables, ok := namedTables[kind]
	if !ok {
		return errkind.Newf(errkind.KindInvalidState, "unknown relation kind %q", kind)
	}
	entity, link, fk := tables[0], tables[1], tables[2]

	tx, err := r.db.Begin()
	if err != nil {
		return errkind.Wrap(errkind.KindTransactionFailed, "begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE movie_id = $1`, link), movieID); err != nil {
		return errkind.Wrap(errkind.KindQueryFailed, "clear "+kind, err)
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true

		var id int64
		err := tx.QueryRow(fmt.Sprintf(`SELECT id FROM %s WHERE LOWER(name) = LOWER($1)`, entity), name).Scan(&id)
		if err == sql.ErrNoRows {
			err = tx.QueryRow(fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) RETURNING id`, entity), name).Scan(&id)
		}
		if err != nil {
			return errkind.Wrap(errkind.KindQueryFailed, "upsert "+kind, err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (movie_id, %s) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, link, fk), movieID, id); err != nil {
			return errkind.Wrap(errkind.KindQueryFailed, "link "+kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errkind.Wrap(errkind.KindTransactionFailed, "commit", err)
	}
	return nil
}

// ListNamed returns the linked names for a movie, ordered by name.
func (r *RelationRepository) ListNamed(kind string, movieID int64) ([]string, error) {
	tables, ok := namedTables[kind]
	if !ok {
		return nil, errkind.Newf(errkind.KindInvalidState, "unknown relation kind %q", kind)
	}
	entity, link, fk := tables[0], tables[1], tables[2]
	rows, err := r.db.Query(fmt.Sprintf(`SELECT e.name FROM %s e JOIN %s l ON l.%s = e.id
		WHERE l.movie_id = $1 ORDER BY e.name`, entity, link, fk), movieID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list "+kind, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ActorCredit is one cast row with the person resolved.
type ActorCredit struct {
	Person    models.Person
	Role      string
	SortOrder int
}

func (r *RelationRepository) ListActors(movieID int64) ([]ActorCredit, error) {
	rows, err := r.db.Query(`SELECT p.id, p.name, p.external_person_id, p.thumb_url, p.thumb_hash,
		a.role, a.sort_order
		FROM movie_actors a JOIN people p ON p.id = a.person_id
		WHERE a.movie_id = $1 ORDER BY a.sort_order, p.name`, movieID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list actors", err)
	}
	defer rows.Close()
	var out []ActorCredit
	for rows.Next() {
		var c ActorCredit
		if err := rows.Scan(&c.Person.ID, &c.Person.Name, &c.Person.ExternalPersonID,
			&c.Person.ThumbURL, &c.Person.ThumbHash, &c.Role, &c.SortOrder); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *RelationRepository) ListCrew(table string, movieID int64) ([]models.Person, error) {
	if table != "movie_directors" && table != "movie_writers" {
		return nil, errkind.Newf(errkind.KindInvalidState, "unknown crew table %q", table)
	}
	rows, err := r.db.Query(fmt.Sprintf(`SELECT p.id, p.name, p.external_person_id, p.thumb_url, p.thumb_hash
		FROM %s c JOIN people p ON p.id = c.person_id WHERE c.movie_id = $1 ORDER BY p.name`, table), movieID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list crew", err)
	}
	defer rows.Close()
	var out []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.ExternalPersonID, &p.ThumbURL, &p.ThumbHash); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SweepOrphans deletes related rows with zero back-references across the
// union of link tables. Returns total rows removed.
func (r *RelationRepository) SweepOrphans() (int64, error) {
	var total int64
	statements := []string{
		`DELETE FROM people p WHERE NOT EXISTS (SELECT 1 FROM movie_actors WHERE person_id = p.id)
			AND NOT EXISTS (SELECT 1 FROM movie_directors WHERE person_id = p.id)
			AND NOT EXISTS (SELECT 1 FROM movie_writers WHERE person_id = p.id)`,
		`DELETE FROM genres g WHERE NOT EXISTS (SELECT 1 FROM movie_genres WHERE genre_id = g.id)`,
		`DELETE FROM studios s WHERE NOT EXISTS (SELECT 1 FROM movie_studios WHERE studio_id = s.id)`,
		`DELETE FROM countries c WHERE NOT EXISTS (SELECT 1 FROM movie_countries WHERE country_id = c.id)`,
		`DELETE FROM tags t WHERE NOT EXISTS (SELECT 1 FROM movie_tags WHERE tag_id = t.id)`,
	}
	for _, stmt := range statements {
		res, err := r.db.Exec(stmt)
		if err != nil {
			return total, errkind.Wrap(errkind.KindQueryFailed, "sweep orphans", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
