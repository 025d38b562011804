package webservice

import (
	"context"
	"maps"
	"slices"

	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/wserr"
)

type getCourseInput struct {
	UserID    int64   `mapstructure:"userid"`
	CourseID  *int64  `mapstructure:"courseid"`
	ShortName *string `mapstructure:"shortname"`
}

func (s *Service) getCourse(ctx context.Context, params map[string]any) (any, error) {
	var in getCourseInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}

	var (
		course   *model.Course
		err      error
		notFound *wserr.Error
	)
	switch {
	case in.CourseID != nil && *in.CourseID != 0:
		course, err = s.store.GetCourse(ctx, *in.CourseID)
		notFound = wserr.Context(wserr.CodeCourseContextNotValid, *in.CourseID, nil)
	case in.ShortName != nil && *in.ShortName != "":
		course, err = s.store.GetCourseByShortName(ctx, *in.ShortName)
		notFound = wserr.ContextName(wserr.CodeCourseContextNotValid, *in.ShortName)
	default:
		return nil, wserr.Validation(wserr.CodeMissingField, "courseid", "courseid or shortname is required")
	}
	if err != nil {
		return nil, dbError(err)
	}
	if course == nil {
		return nil, notFound
	}

	if err := s.RequireCapability(ctx, in.UserID, model.CapCourseManageActivities, model.CourseContext(course.ID)); err != nil {
		return nil, err
	}

	info, err := s.store.CourseInfo(ctx, course.ID)
	if err != nil {
		return nil, dbError(err)
	}
	if info == nil {
		return nil, wserr.Context(wserr.CodeCourseContextNotValid, course.ID, nil)
	}

	fields, err := s.store.CustomFields(ctx)
	if err != nil {
		return nil, dbError(err)
	}
	return map[string]any{
		"userid": in.UserID,
		"course": courseResult(info, fields),
	}, nil
}

func courseResult(info *model.CourseInfo, fields []model.CustomField) map[string]any {
	c := info.Course
	out := map[string]any{
		"id":                c.ID,
		"fullname":          c.FullName,
		"shortname":         c.ShortName,
		"categoryid":        c.CategoryID,
		"idnumber":          c.IDNumber,
		"summary":           c.Summary,
		"summaryformat":     c.SummaryFormat,
		"format":            c.Format,
		"showgrades":        c.ShowGrades,
		"newsitems":         c.NewsItems,
		"startdate":         c.StartDate,
		"enddate":           c.EndDate,
		"maxbytes":          c.MaxBytes,
		"showreports":       c.ShowReports,
		"visible":           c.Visible,
		"groupmode":         c.GroupMode,
		"groupmodeforce":    c.GroupModeForce,
		"defaultgroupingid": c.DefaultGroupingID,
		"enablecompletion":  c.EnableCompletion,
		"completionnotify":  c.CompletionNotify,
	}
	if c.Lang != "" {
		out["lang"] = c.Lang
	}
	if c.Theme != "" {
		out["forcetheme"] = c.Theme
	}
	if v, ok := c.FormatOptions["numsections"]; ok {
		out["numsections"] = v
	}
	if v, ok := c.FormatOptions["hiddensections"]; ok {
		out["hiddensections"] = v
	}

	options := []any{}
	for _, name := range slices.Sorted(maps.Keys(c.FormatOptions)) {
		options = append(options, map[string]any{"name": name, "value": c.FormatOptions[name]})
	}
	out["courseformatoptions"] = options

	custom := []any{}
	for _, f := range fields {
		if v, ok := c.CustomFields[f.ID]; ok {
			custom = append(custom, map[string]any{"shortname": f.ShortName, "value": v})
		}
	}
	out["customfields"] = custom

	sections := []any{}
	for _, si := range info.Sections {
		modules := []any{}
		for _, m := range si.Modules {
			modules = append(modules, map[string]any{
				"id":      m.ID,
				"modname": m.ModName,
				"name":    m.Name,
				"intro":   m.Intro,
				"visible": m.Visible,
			})
		}
		sections = append(sections, map[string]any{
			"id":            si.Section.ID,
			"number":        si.Section.Number,
			"name":          si.Section.Name,
			"summary":       si.Section.Summary,
			"summaryformat": si.Section.SummaryFormat,
			"visible":       si.Section.Visible,
			"modules":       modules,
		})
	}
	out["sections"] = sections
	return out
}
