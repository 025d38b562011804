package webservice

import (
	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/schema"
)

var nameValueList = schema.OptList("additional options for particular course format", schema.Struct("option",
	schema.F("name", schema.Req(schema.AlphanumExt, "course format option name")),
	schema.F("value", schema.Req(schema.Raw, "course format option value")),
))

var customFieldList = schema.OptList("custom fields for the course", schema.Struct("custom field",
	schema.F("shortname", schema.Req(schema.AlphanumExt, "the shortname of the custom field")),
	schema.F("value", schema.Req(schema.Raw, "the value of the custom field")),
))

// courseFields are the course settings shared by create_course parameters
// and get_course results. Defaults come from the site course defaults.
func courseFields(def model.CourseDefaults) []schema.Field {
	return []schema.Field{
		schema.F("fullname", schema.Req(schema.Text, "full name")),
		schema.F("shortname", schema.Req(schema.Text, "course short name")),
		schema.F("categoryid", schema.Req(schema.Int, "category id")),
		schema.F("idnumber", schema.Opt(schema.Raw, "id number")),
		schema.F("summary", schema.Opt(schema.Raw, "summary")),
		schema.F("summaryformat", schema.Def(schema.Int, "summary format (1 = HTML, 0 = MOODLE, 2 = PLAIN, 4 = MARKDOWN)", model.FormatHTML)),
		schema.F("format", schema.Def(schema.Plugin, "course format: weeks, topics, social, site,..", def.Format)),
		schema.F("showgrades", schema.Def(schema.Int, "1 if grades are shown, otherwise 0", def.ShowGrades)),
		schema.F("newsitems", schema.Def(schema.Int, "number of recent items appearing on the course page", def.NewsItems)),
		schema.F("startdate", schema.Opt(schema.Int, "timestamp when the course start")),
		schema.F("enddate", schema.Opt(schema.Int, "timestamp when the course end")),
		schema.F("numsections", schema.Opt(schema.Int, "(deprecated, use courseformatoptions) number of weeks/topics")),
		schema.F("maxbytes", schema.Def(schema.Int, "largest size of file that can be uploaded into the course", def.MaxBytes)),
		schema.F("showreports", schema.Def(schema.Int, "are activity report shown (yes = 1, no = 0)", def.ShowReports)),
		schema.F("visible", schema.Opt(schema.Int, "1: available to student, 0: not available")),
		schema.F("hiddensections", schema.Opt(schema.Int, "(deprecated, use courseformatoptions) how hidden sections are displayed to students")),
		schema.F("groupmode", schema.Def(schema.Int, "no group, separate, visible", def.GroupMode)),
		schema.F("groupmodeforce", schema.Def(schema.Int, "1: yes, 0: no", def.GroupModeForce)),
		schema.F("defaultgroupingid", schema.Def(schema.Int, "default grouping id", 0)),
		schema.F("enablecompletion", schema.Opt(schema.Int, "completion tracking: 1 enabled, 0 disabled")),
		schema.F("completionnotify", schema.Opt(schema.Int, "1: yes 0: no")),
		schema.F("lang", schema.Opt(schema.SafeDir, "forced course language")),
		schema.F("forcetheme", schema.Opt(schema.Plugin, "name of the force theme")),
		schema.F("courseformatoptions", nameValueList),
		schema.F("customfields", customFieldList),
	}
}

func createCourseParams(def model.CourseDefaults) schema.Single {
	return schema.Struct("parameters",
		schema.F("userid", schema.Req(schema.Int, "id of user")),
		schema.F("course", schema.Struct("course", courseFields(def)...)),
	)
}

var createCourseReturns = schema.Struct("result",
	schema.F("courseid", schema.Req(schema.Int, "course id")),
)

var createModParams = schema.Struct("parameters",
	schema.F("userid", schema.Req(schema.Int, "user id")),
	schema.F("courseid", schema.Req(schema.Int, "course id")),
	schema.F("moduleinfo", schema.OptList("modinfo", schema.Struct("module",
		schema.F("mod", schema.Req(schema.Raw, "allowed modtype")),
		schema.F("title", schema.Req(schema.Raw, "title of the mod")),
		schema.F("url", schema.Opt(schema.URL, "URL of the file to download")),
		schema.F("text", schema.Req(schema.Raw, "intro text of the mod")),
		schema.F("section", schema.Struct("section",
			schema.F("number", schema.Req(schema.Alphanum, "section number")),
			schema.F("name", schema.Opt(schema.Raw, "title of the section")),
			schema.F("summary", schema.Opt(schema.Raw, "summary text of the section")),
		)),
	))),
	schema.F("questioninfos", schema.OptList("questioninfo", schema.Struct("question",
		schema.F("quizid", schema.Req(schema.Int, "id of the quiz module to add the question to, 0 for none")),
		schema.F("category", schema.Opt(schema.Raw, "question category name, the course default category when empty")),
		schema.F("type", schema.Req(schema.AlphanumExt, "type of the question, e.g. multichoice")),
		schema.F("name", schema.Req(schema.Raw, "name of the question")),
		schema.F("questiontext", schema.Req(schema.Raw, "question text")),
		schema.F("generalfeedback", schema.Opt(schema.Raw, "general feedback")),
		schema.F("defaultmark", schema.Opt(schema.Float, "default mark")),
		schema.F("penalty", schema.Opt(schema.Float, "penalty fraction for each incorrect try")),
		schema.F("single", schema.Req(schema.Bool, "whether it is a single-answer question")),
		schema.F("shuffleanswers", schema.Req(schema.Bool, "whether the answers should be shuffled")),
		schema.F("answernumbering", schema.Req(schema.Alphanum, "answer numbering style, e.g. abc or 123")),
		schema.F("answers", schema.List("list of possible answers", schema.Struct("answer",
			schema.F("text", schema.Req(schema.Raw, "answer text")),
			schema.F("fraction", schema.Req(schema.Float, "fraction of the grade for this answer (1.0 for correct, 0.0 for incorrect)")),
			schema.F("feedback", schema.Req(schema.Raw, "feedback for this answer")),
		))),
	))),
)

var createModReturns = schema.Struct("result",
	schema.F("status", schema.Req(schema.Text, "response status, e.g. success or error")),
	schema.F("message", schema.Opt(schema.Raw, "error message, present only on error")),
	schema.F("addedMods", schema.OptList("list of added modules", schema.Struct("module",
		schema.F("moduleid", schema.Opt(schema.Int, "id of the added module")),
		schema.F("modulename", schema.Req(schema.Raw, "name of the added module")),
	))),
	schema.F("addedQuestions", schema.OptList("list of added questions", schema.Struct("question",
		schema.F("questionid", schema.Req(schema.Int, "id of the added question")),
		schema.F("questionname", schema.Req(schema.Raw, "name of the added question")),
	))),
)

var getCourseParams = schema.Struct("parameters",
	schema.F("userid", schema.Req(schema.Int, "user id")),
	schema.F("courseid", schema.Opt(schema.Int, "course id")),
	schema.F("shortname", schema.Opt(schema.Text, "course short name")),
)

func getCourseReturns(def model.CourseDefaults) schema.Single {
	fields := append([]schema.Field{schema.F("id", schema.Req(schema.Int, "course id"))}, courseFields(def)...)
	fields = append(fields, schema.F("sections", schema.OptList("course sections", schema.Struct("section",
		schema.F("id", schema.Req(schema.Int, "section id")),
		schema.F("number", schema.Req(schema.Int, "section number")),
		schema.F("name", schema.Req(schema.Raw, "section name")),
		schema.F("summary", schema.Req(schema.Raw, "section summary")),
		schema.F("summaryformat", schema.Req(schema.Int, "summary format")),
		schema.F("visible", schema.Req(schema.Bool, "section visibility")),
		schema.F("modules", schema.OptList("modules in the section", schema.Struct("module",
			schema.F("id", schema.Req(schema.Int, "module id")),
			schema.F("modname", schema.Req(schema.Plugin, "module type")),
			schema.F("name", schema.Req(schema.Raw, "module name")),
			schema.F("intro", schema.Opt(schema.Raw, "intro text")),
			schema.F("visible", schema.Req(schema.Bool, "module visibility")),
		))),
	))))
	return schema.Struct("course information",
		schema.F("userid", schema.Req(schema.Int, "id of user")),
		schema.F("course", schema.Struct("course", fields...)),
	)
}
