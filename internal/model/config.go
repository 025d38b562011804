package model

import "slices"

// CourseDefaults are the site-wide defaults for new courses.
type CourseDefaults struct {
	Format           string `mapstructure:"format"`
	ShowGrades       int    `mapstructure:"showgrades"`
	NewsItems        int    `mapstructure:"newsitems"`
	MaxBytes         int64  `mapstructure:"maxbytes"`
	ShowReports      int    `mapstructure:"showreports"`
	Visible          int    `mapstructure:"visible"`
	GroupMode        int    `mapstructure:"groupmode"`
	GroupModeForce   int    `mapstructure:"groupmodeforce"`
	NumSections      int    `mapstructure:"numsections"`
	MaxSections      int    `mapstructure:"maxsections"`
	HiddenSections   int    `mapstructure:"hiddensections"`
	EnableCompletion int    `mapstructure:"enablecompletion"`
}

// SiteConfig is the site-wide configuration the endpoints read.
type SiteConfig struct {
	Course CourseDefaults `mapstructure:"moodlecourse"`

	// EnableCompletion turns completion tracking on for the whole site.
	EnableCompletion  bool     `mapstructure:"enablecompletion"`
	AllowCourseThemes bool     `mapstructure:"allowcoursethemes"`
	Themes            []string `mapstructure:"themes"`
	// Languages lists the installed language packs.
	Languages []string `mapstructure:"languages"`
	// CreatorNewRole is the role given to a course creator in the new course.
	CreatorNewRole string `mapstructure:"creatornewrole"`
	// MaxBytes caps any upload on the site; 0 means unlimited.
	MaxBytes int64 `mapstructure:"maxbytes"`
}

// DefaultSiteConfig returns the configuration of a fresh site.
func DefaultSiteConfig() SiteConfig {
	return SiteConfig{
		Course: CourseDefaults{
			Format:           "topics",
			ShowGrades:       1,
			NewsItems:        5,
			MaxBytes:         0,
			ShowReports:      0,
			Visible:          1,
			GroupMode:        0,
			GroupModeForce:   0,
			NumSections:      4,
			MaxSections:      52,
			HiddenSections:   0,
			EnableCompletion: 1,
		},
		EnableCompletion:  true,
		AllowCourseThemes: false,
		Themes:            []string{"boost", "classic"},
		Languages:         []string{"en"},
		CreatorNewRole:    "editingteacher",
	}
}

// ThemeInstalled reports whether name is an installed theme.
func (c SiteConfig) ThemeInstalled(name string) bool {
	return slices.Contains(c.Themes, name)
}

// LanguageInstalled reports whether lang is an installed language pack.
func (c SiteConfig) LanguageInstalled(lang string) bool {
	return slices.Contains(c.Languages, lang)
}

// CourseInfo is a read-only snapshot of a course with its sections and modules.
type CourseInfo struct {
	Course   Course
	Sections []SectionInfo
}

// SectionInfo is a section together with the modules placed in it.
type SectionInfo struct {
	Section Section
	Modules []Module
}
