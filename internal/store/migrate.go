package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// SchemaVersion is the version the store migrates to.
const SchemaVersion = 2024110701

type migration struct {
	version int64
	name    string
	up      func(ctx context.Context, s *Store) error
}

var migrations = []migration{
	{2024110600, "base schema", migrateBase},
	{2024110601, "site defaults", migrateSiteDefaults},
	{2024110701, "rename add_quiz_to_course to create_mod", migrateRenameCreateMod},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS config (name TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}
	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.InTx(ctx, func(ctx context.Context) error {
			if err := m.up(ctx, s); err != nil {
				return err
			}
			return s.SetConfig(ctx, "version", strconv.FormatInt(m.version, 10))
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		slog.Info("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int64, error) {
	v, err := s.GetConfig(ctx, "version")
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// Version returns the applied schema version.
func (s *Store) Version(ctx context.Context) (int64, error) {
	return s.schemaVersion(ctx)
}

func migrateBase(ctx context.Context, s *Store) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = strings.ReplaceAll(schemaSQLite, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
		schema = strings.ReplaceAll(schema, " INTEGER", " BIGINT")
		schema = strings.ReplaceAll(schema, " REAL", " DOUBLE PRECISION")
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.q(ctx).ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %s", err, firstLine(stmt))
		}
	}
	return nil
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}

// migrateSiteDefaults creates the default category, the standard roles
// with their archetype capabilities and the site level settings.
func migrateSiteDefaults(ctx context.Context, s *Store) error {
	if _, err := s.CreateCategory(ctx, "Miscellaneous", 0); err != nil {
		return err
	}
	for _, r := range standardRoles {
		id, err := s.CreateRole(ctx, r)
		if err != nil {
			return err
		}
		for _, capability := range ArchetypeCapabilities(r.Archetype) {
			if err := s.AllowCapability(ctx, id, capability); err != nil {
				return err
			}
		}
	}
	for name, value := range map[string]string{
		ConfigEnableWebServices:     "0",
		ConfigWebServiceProtocols:   "",
		ConfigDefaultQuestionPrefix: "Default for",
	} {
		if err := s.SetConfig(ctx, name, value); err != nil {
			return err
		}
	}
	return nil
}

// migrateRenameCreateMod renames the legacy function and gives the service its shortname.
func migrateRenameCreateMod(ctx context.Context, s *Store) error {
	if _, err := s.q(ctx).ExecContext(ctx,
		`UPDATE external_services_functions SET functionname = $1 WHERE functionname = $2`,
		"local_suppcompanion_create_mod", "local_suppcompanion_add_quiz_to_course"); err != nil {
		return err
	}
	_, err := s.q(ctx).ExecContext(ctx,
		`UPDATE external_services SET shortname = $1 WHERE name = $2 AND shortname = ''`,
		"support_companion", "Support Companion")
	return err
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS course_categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	parent INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS courses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category INTEGER NOT NULL REFERENCES course_categories(id),
	fullname TEXT NOT NULL,
	shortname TEXT NOT NULL UNIQUE,
	idnumber TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	summaryformat INTEGER NOT NULL DEFAULT 1,
	format TEXT NOT NULL DEFAULT 'topics',
	showgrades INTEGER NOT NULL DEFAULT 1,
	newsitems INTEGER NOT NULL DEFAULT 5,
	startdate INTEGER NOT NULL DEFAULT 0,
	enddate INTEGER NOT NULL DEFAULT 0,
	maxbytes INTEGER NOT NULL DEFAULT 0,
	showreports INTEGER NOT NULL DEFAULT 0,
	visible INTEGER NOT NULL DEFAULT 1,
	groupmode INTEGER NOT NULL DEFAULT 0,
	groupmodeforce INTEGER NOT NULL DEFAULT 0,
	defaultgroupingid INTEGER NOT NULL DEFAULT 0,
	enablecompletion INTEGER NOT NULL DEFAULT 0,
	completionnotify INTEGER NOT NULL DEFAULT 0,
	lang TEXT NOT NULL DEFAULT '',
	theme TEXT NOT NULL DEFAULT '',
	timecreated INTEGER NOT NULL,
	timemodified INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS course_format_options (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	courseid INTEGER NOT NULL REFERENCES courses(id),
	format TEXT NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	UNIQUE (courseid, format, name)
);

CREATE TABLE IF NOT EXISTS customfield_fields (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	shortname TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	locked INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS customfield_data (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fieldid INTEGER NOT NULL REFERENCES customfield_fields(id),
	instanceid INTEGER NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	UNIQUE (fieldid, instanceid)
);

CREATE TABLE IF NOT EXISTS course_sections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	course INTEGER NOT NULL REFERENCES courses(id),
	section INTEGER NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	summaryformat INTEGER NOT NULL DEFAULT 1,
	visible INTEGER NOT NULL DEFAULT 1,
	UNIQUE (course, section)
);

CREATE TABLE IF NOT EXISTS course_modules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	course INTEGER NOT NULL REFERENCES courses(id),
	section INTEGER NOT NULL REFERENCES course_sections(id),
	modname TEXT NOT NULL,
	name TEXT NOT NULL,
	intro TEXT NOT NULL DEFAULT '',
	introformat INTEGER NOT NULL DEFAULT 1,
	visible INTEGER NOT NULL DEFAULT 1,
	password TEXT NOT NULL DEFAULT '',
	timecreated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS question_categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	contextlevel INTEGER NOT NULL,
	instanceid INTEGER NOT NULL,
	isdefault INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS questions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category INTEGER NOT NULL REFERENCES question_categories(id),
	qtype TEXT NOT NULL,
	name TEXT NOT NULL,
	questiontext TEXT NOT NULL DEFAULT '',
	questiontextformat INTEGER NOT NULL DEFAULT 1,
	generalfeedback TEXT NOT NULL DEFAULT '',
	defaultmark REAL NOT NULL DEFAULT 1,
	penalty REAL NOT NULL DEFAULT 0.3333333,
	single INTEGER NOT NULL DEFAULT 1,
	shuffleanswers INTEGER NOT NULL DEFAULT 1,
	answernumbering TEXT NOT NULL DEFAULT 'abc',
	correctfeedback TEXT NOT NULL DEFAULT '',
	partiallycorrectfeedback TEXT NOT NULL DEFAULT '',
	incorrectfeedback TEXT NOT NULL DEFAULT '',
	shownumcorrect INTEGER NOT NULL DEFAULT 0,
	createdby INTEGER NOT NULL DEFAULT 0,
	timecreated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS question_answers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	question INTEGER NOT NULL REFERENCES questions(id),
	answer TEXT NOT NULL,
	fraction REAL NOT NULL DEFAULT 0,
	feedback TEXT NOT NULL DEFAULT '',
	sortorder INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quiz_slots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	quizid INTEGER NOT NULL REFERENCES course_modules(id),
	slot INTEGER NOT NULL,
	questionid INTEGER NOT NULL REFERENCES questions(id),
	maxmark REAL NOT NULL DEFAULT 1,
	UNIQUE (quizid, slot)
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	firstname TEXT NOT NULL DEFAULT '',
	lastname TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	auth TEXT NOT NULL DEFAULT 'manual',
	password TEXT NOT NULL DEFAULT '',
	confirmed INTEGER NOT NULL DEFAULT 1,
	suspended INTEGER NOT NULL DEFAULT 0,
	timecreated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS roles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	shortname TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	archetype TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS role_context_levels (
	roleid INTEGER NOT NULL REFERENCES roles(id),
	contextlevel INTEGER NOT NULL,
	PRIMARY KEY (roleid, contextlevel)
);

CREATE TABLE IF NOT EXISTS role_capabilities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	roleid INTEGER NOT NULL REFERENCES roles(id),
	capability TEXT NOT NULL,
	UNIQUE (roleid, capability)
);

CREATE TABLE IF NOT EXISTS role_assignments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	roleid INTEGER NOT NULL REFERENCES roles(id),
	userid INTEGER NOT NULL REFERENCES users(id),
	contextlevel INTEGER NOT NULL,
	instanceid INTEGER NOT NULL,
	timemodified INTEGER NOT NULL,
	UNIQUE (roleid, userid, contextlevel, instanceid)
);

CREATE TABLE IF NOT EXISTS user_enrolments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	courseid INTEGER NOT NULL REFERENCES courses(id),
	userid INTEGER NOT NULL REFERENCES users(id),
	enrol TEXT NOT NULL DEFAULT 'manual',
	timecreated INTEGER NOT NULL,
	UNIQUE (courseid, userid)
);

CREATE TABLE IF NOT EXISTS external_services (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	shortname TEXT NOT NULL DEFAULT '',
	component TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 0,
	restrictedusers INTEGER NOT NULL DEFAULT 0,
	timecreated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS external_services_functions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	externalserviceid INTEGER NOT NULL REFERENCES external_services(id),
	functionname TEXT NOT NULL,
	UNIQUE (externalserviceid, functionname)
);

CREATE TABLE IF NOT EXISTS external_services_users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	externalserviceid INTEGER NOT NULL REFERENCES external_services(id),
	userid INTEGER NOT NULL REFERENCES users(id),
	timecreated INTEGER NOT NULL,
	UNIQUE (externalserviceid, userid)
);

CREATE TABLE IF NOT EXISTS external_tokens (
	token TEXT PRIMARY KEY,
	userid INTEGER NOT NULL REFERENCES users(id),
	externalserviceid INTEGER NOT NULL REFERENCES external_services(id),
	tokentype INTEGER NOT NULL DEFAULT 0,
	timecreated INTEGER NOT NULL,
	validuntil INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	contextlevel INTEGER NOT NULL,
	instanceid INTEGER NOT NULL,
	component TEXT NOT NULL,
	filearea TEXT NOT NULL,
	itemid INTEGER NOT NULL,
	filepath TEXT NOT NULL DEFAULT '/',
	filename TEXT NOT NULL,
	blobkey TEXT NOT NULL,
	mimetype TEXT NOT NULL DEFAULT '',
	filesize INTEGER NOT NULL DEFAULT 0,
	userid INTEGER NOT NULL DEFAULT 0,
	timecreated INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_area ON files (contextlevel, instanceid, component, filearea, itemid);
CREATE INDEX IF NOT EXISTS idx_role_assignments_user ON role_assignments (userid);
CREATE INDEX IF NOT EXISTS idx_course_modules_course ON course_modules (course)
`
