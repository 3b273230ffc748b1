// Package octaviadb is an embedded document store backed by one file per
// entity.
//
// A Database is a directory. It hands out two kinds of entities: a Collection
// holds an ordered list of JSON records and a Document holds a single JSON
// object. Each entity keeps its content in memory; mutations mark it dirty and
// reach disk on Commit, on a write made with CommitNow, on Close, or on the
// periodic background commit configured with WithAutoCommit.
//
// Encrypted entities (the default) are sealed with a key derived from the
// database password; plain entities are stored as JSON.
//
//	db, err := octaviadb.Open("data", password)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//	users, err := db.Collection("users")
//	if err != nil {
//		return err
//	}
//	err = users.Insert(octaviadb.Record{"name": "ada"}, octaviadb.AssignID())
package octaviadb
