package google

import (
	calendar "google.golang.org/api/calendar/v3"
	docs "google.golang.org/api/docs/v1"
	drive "google.golang.org/api/drive/v3"
	gmail "google.golang.org/api/gmail/v1"
	sheets "google.golang.org/api/sheets/v4"
	slides "google.golang.org/api/slides/v1"
)

// formsScope is the full Forms scope. The forms/v1 client only exports the
// narrower body and responses scopes.
const formsScope = "https://www.googleapis.com/auth/forms"

// Scopes are requested on every authorization. They are not configurable per
// call.
var Scopes = []string{
	drive.DriveReadonlyScope,
	drive.DriveFileScope,
	formsScope,
	sheets.SpreadsheetsScope,
	docs.DocumentsScope,
	slides.PresentationsScope,
	calendar.CalendarScope,
	gmail.GmailReadonlyScope,
}
