package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/0001_init.up.sql":   {Data: []byte("create table a (id int);\n-- comment; ignored\ncreate table b (note text default 'x;y');\n")},
		"sql/0001_init.down.sql": {Data: []byte("drop table b;\ndrop table a;\n")},
		"sql/0002_more.up.sql":   {Data: []byte("alter table a add column name text;")},
		"seeds/0001_groups.sql":  {Data: []byte("insert into a (id) values (1);")},
		"seeds/readme.txt":       {Data: []byte("not sql")},
		"sql/0002_more.down.sql": {Data: []byte("alter table a drop column name;")},
	}
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("alter table a add column name text").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_more.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := NewManager(db, testFS()).Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_more.up.sql" {
		t.Fatalf("unexpected applied list: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql").AddRow("0002_more.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("alter table a drop column name").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations where name").
		WithArgs("0002_more.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	last, err := NewManager(db, testFS()).Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if last != "0002_more.up.sql" {
		t.Fatalf("unexpected rollback target %q", last)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSeedSkipsNonSQLFiles(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("insert into a").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into schema_seeds").
		WithArgs("0001_groups.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := NewManager(db, testFS()).Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("unexpected applied list: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("create table a (id int);\n-- drop; nothing\ninsert into a values ('x;y');")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[1] != "\ninsert into a values ('x;y');" {
		t.Fatalf("unexpected second statement %q", stmts[1])
	}
}
