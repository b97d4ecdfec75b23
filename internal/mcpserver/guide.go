package mcpserver

// CategoryGuide describes the note categories and tab rules for LLM
// consumers adding or reading notes.
const CategoryGuide = `# Customer history categories

Every history entry belongs to exactly one category. Tools accept and return
the UI names below; the API name is what the FeetFirst backend stores.

| UI name     | API name    | Typical content                      |
|-------------|-------------|--------------------------------------|
| Notizen     | Notizen     | Free-text notes (default)            |
| Bestellungen| Bestellungen| Orders                               |
| Leistungen  | Leistungen  | Services performed                   |
| Termin      | Termin      | Appointments, shown as ` + "`Event: <id>`" + ` |
| Zahlungen   | Zahlungen   | Payments                             |
| E-mails     | Emails      | Mail links, shown as ` + "`Link`" + `          |

## Tabs

- ` + "`Diagramm`" + ` is the overview tab. It is not a category: it lists every date
  and every note. Passing it to refresh_notes fetches all categories.
- Any other tab lists only the dates with at least one note of that category.

## Dates

- Date keys are ` + "`YYYY-MM-DD`" + ` in the server's configured time zone.
- An entry's own date wins over its creation time when both are present.
- Display dates use ` + "`DD.MM.YYYY`" + `.

## Links

Links into the mail inbox (` + "`/messages/inbox/<id>`" + ` and the system inbox) are
rewritten to ` + "`/dashboard/email/sent/<id>`" + `. Other links are kept as-is.
`
