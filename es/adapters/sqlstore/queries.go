package sqlstore

import (
	"fmt"

	"github.com/getpup/pupstore/es/migrations"
)

const commitColumns = `checkpoint_number, bucket_id, stream_id, stream_revision, items,
	commit_id, commit_sequence, commit_stamp, headers, payload`

// queries holds every statement of the engine, rebound for one dialect.
type queries struct {
	insertCommit string
	commitExists string
	upsertHead   string

	get         string
	getFrom     string
	getFromAll  string
	getFromTime string
	getFromTo   string

	getSnapshot       string
	headExists        string
	deleteSnapshot    string
	insertSnapshot    string
	markSnapshot      string
	streamsToSnapshot string

	purgeAll         []string
	purgeBucket      []string
	deleteStream     []string
	getCheckpoint    string
	upsertCheckpoint string
}

func buildQueries(d Dialect, t migrations.Config, pageSize int) queries {
	insert := fmt.Sprintf(`
		INSERT INTO %s (bucket_id, stream_id, stream_revision, items,
			commit_id, commit_sequence, commit_stamp, headers, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, t.CommitsTable)
	if d.InsertReturnsID() {
		insert += " RETURNING checkpoint_number"
	}

	page := func(where, order string) string {
		return rebind(d, fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %d",
			commitColumns, t.CommitsTable, where, order, pageSize))
	}

	return queries{
		insertCommit: rebind(d, insert),
		commitExists: rebind(d, fmt.Sprintf(
			"SELECT 1 FROM %s WHERE bucket_id = ? AND stream_id = ? AND commit_id = ?", t.CommitsTable)),
		upsertHead: d.UpsertHeadSQL(t.StreamHeadsTable),

		get: page(`bucket_id = ? AND stream_id = ?
			AND stream_revision >= ? AND stream_revision - items + 1 <= ?
			AND commit_sequence > ?`, "commit_sequence"),
		getFrom:     page("bucket_id = ? AND checkpoint_number > ?", "checkpoint_number"),
		getFromAll:  page("checkpoint_number > ?", "checkpoint_number"),
		getFromTime: page("bucket_id = ? AND commit_stamp >= ? AND checkpoint_number > ?", "checkpoint_number"),
		getFromTo: page("bucket_id = ? AND commit_stamp >= ? AND commit_stamp < ? AND checkpoint_number > ?",
			"checkpoint_number"),

		getSnapshot: rebind(d, fmt.Sprintf(`
			SELECT stream_revision, payload FROM %s
			WHERE bucket_id = ? AND stream_id = ? AND stream_revision <= ?
			ORDER BY stream_revision DESC LIMIT 1`, t.SnapshotsTable)),
		headExists: rebind(d, fmt.Sprintf(
			"SELECT head_revision FROM %s WHERE bucket_id = ? AND stream_id = ?", t.StreamHeadsTable)),
		deleteSnapshot: rebind(d, fmt.Sprintf(
			"DELETE FROM %s WHERE bucket_id = ? AND stream_id = ? AND stream_revision = ?", t.SnapshotsTable)),
		insertSnapshot: rebind(d, fmt.Sprintf(
			"INSERT INTO %s (bucket_id, stream_id, stream_revision, payload) VALUES (?, ?, ?, ?)", t.SnapshotsTable)),
		markSnapshot: rebind(d, fmt.Sprintf(
			"UPDATE %s SET snapshot_revision = ? WHERE bucket_id = ? AND stream_id = ? AND snapshot_revision < ?",
			t.StreamHeadsTable)),
		streamsToSnapshot: rebind(d, fmt.Sprintf(`
			SELECT bucket_id, stream_id, head_revision, snapshot_revision FROM %s
			WHERE bucket_id = ? AND head_revision >= snapshot_revision + ? AND stream_id > ?
			ORDER BY stream_id LIMIT %d`, t.StreamHeadsTable, pageSize)),

		purgeAll: []string{
			"DELETE FROM " + t.CommitsTable,
			"DELETE FROM " + t.SnapshotsTable,
			"DELETE FROM " + t.StreamHeadsTable,
		},
		purgeBucket: []string{
			rebind(d, fmt.Sprintf("DELETE FROM %s WHERE bucket_id = ?", t.CommitsTable)),
			rebind(d, fmt.Sprintf("DELETE FROM %s WHERE bucket_id = ?", t.SnapshotsTable)),
			rebind(d, fmt.Sprintf("DELETE FROM %s WHERE bucket_id = ?", t.StreamHeadsTable)),
		},
		deleteStream: []string{
			rebind(d, fmt.Sprintf("DELETE FROM %s WHERE bucket_id = ? AND stream_id = ?", t.CommitsTable)),
			rebind(d, fmt.Sprintf("DELETE FROM %s WHERE bucket_id = ? AND stream_id = ?", t.SnapshotsTable)),
			rebind(d, fmt.Sprintf("DELETE FROM %s WHERE bucket_id = ? AND stream_id = ?", t.StreamHeadsTable)),
		},
		getCheckpoint: rebind(d, fmt.Sprintf(
			"SELECT checkpoint_number FROM %s WHERE consumer_name = ?", t.CheckpointsTable)),
		upsertCheckpoint: d.UpsertCheckpointSQL(t.CheckpointsTable),
	}
}
