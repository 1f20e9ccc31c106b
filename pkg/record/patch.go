package record

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ha1tch/friendgraph/pkg/apperrors"
	"github.com/ha1tch/friendgraph/pkg/models"
)

// Field names a patchable attribute. Sub-fields of nested structures are
// spelled "<structure>-<field>".
type Field string

const (
	FieldName                 Field = "name"
	FieldEmail                Field = "email"
	FieldSnapchat             Field = "snapchat"
	FieldDiscordUID           Field = "discord-uid"
	FieldDiscordHandle        Field = "discord-handle"
	FieldDiscordDisplayName   Field = "discord-display_name"
	FieldDiscordUserID        Field = "discord-user_id"
	FieldInstagramHandle      Field = "instagram-handle"
	FieldInstagramDisplayName Field = "instagram-display_name"
	FieldInstagramUserID      Field = "instagram-user_id"
	FieldXHandle              Field = "x-handle"
	FieldXDisplayName         Field = "x-display_name"
	FieldXUserID              Field = "x-user_id"
	// FieldSchool takes "Name:Type" entries and replaces the whole list;
	// empty entries are dropped
	FieldSchool Field = "school"
	// FieldMisc replaces the whole list; empty entries are dropped
	FieldMisc Field = "misc"
)

// Fields lists every patchable field in application order
var Fields = []Field{
	FieldName, FieldEmail, FieldSnapchat,
	FieldDiscordUID, FieldDiscordHandle, FieldDiscordDisplayName, FieldDiscordUserID,
	FieldInstagramHandle, FieldInstagramDisplayName, FieldInstagramUserID,
	FieldXHandle, FieldXDisplayName, FieldXUserID,
	FieldSchool, FieldMisc,
}

func (f Field) repeatable() bool {
	return f == FieldSchool || f == FieldMisc
}

// Patch is a sparse set of field updates. Only fields present in the
// patch are touched.
type Patch struct {
	values map[Field][]string
}

// NewPatch creates an empty patch
func NewPatch() *Patch {
	return &Patch{values: make(map[Field][]string)}
}

// ParsePatch collects the patchable fields from query parameters. Other
// parameters are ignored.
func ParsePatch(params url.Values) *Patch {
	p := NewPatch()
	for _, f := range Fields {
		if vs, ok := params[string(f)]; ok && len(vs) > 0 {
			p.Set(f, vs...)
		}
	}
	return p
}

// Set records a value for f. Single-valued fields keep the first value.
func (p *Patch) Set(f Field, values ...string) *Patch {
	p.values[f] = append([]string(nil), values...)
	return p
}

// Has reports whether the patch targets f
func (p *Patch) Has(f Field) bool {
	_, ok := p.values[f]
	return ok
}

// Empty reports whether the patch targets nothing
func (p *Patch) Empty() bool {
	return len(p.values) == 0
}

// Fields returns the targeted fields in application order
func (p *Patch) Fields() []Field {
	var out []Field
	for _, f := range Fields {
		if p.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Clears returns the wire names of the lists the patch empties. A list
// field whose values are all empty clears the list.
func (p *Patch) Clears() []string {
	var out []string
	for _, f := range p.Fields() {
		if f.repeatable() && len(nonEmpty(p.values[f])) == 0 {
			out = append(out, string(f))
		}
	}
	return out
}

type operation func(*models.Person)

// Apply merges the patch into person. Every value is parsed before the
// record is touched, so a ValidationFailure leaves person unchanged.
func (p *Patch) Apply(person *models.Person) error {
	ops := make([]operation, 0, len(p.values))
	for _, f := range p.Fields() {
		op, err := p.parse(f)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}

	for _, op := range ops {
		op(person)
	}
	return nil
}

func (p *Patch) parse(f Field) (operation, error) {
	values := p.values[f]
	if !f.repeatable() && len(values) == 0 {
		return nil, apperrors.Validation(fmt.Sprintf("invalid %s", f), fmt.Errorf("no value"))
	}

	switch f {
	case FieldName:
		v := values[0]
		if v == "" {
			return nil, apperrors.Validation("invalid name", fmt.Errorf("name cannot be empty"))
		}
		return func(r *models.Person) { r.Name = models.String(v) }, nil
	case FieldEmail:
		v := values[0]
		return func(r *models.Person) { r.Email = models.String(v) }, nil
	case FieldSnapchat:
		v := values[0]
		return func(r *models.Person) { r.Snapchat = models.String(v) }, nil

	case FieldDiscordUID:
		v := values[0]
		return func(r *models.Person) { discord(r).UID = v }, nil
	case FieldDiscordHandle:
		v := values[0]
		return func(r *models.Person) { discord(r).Handle = models.String(v) }, nil
	case FieldDiscordDisplayName:
		v := values[0]
		return func(r *models.Person) { discord(r).DisplayName = models.String(v) }, nil
	case FieldDiscordUserID:
		id, err := parseUserID(f, values[0])
		if err != nil {
			return nil, err
		}
		return func(r *models.Person) { discord(r).UserID = id }, nil

	case FieldInstagramHandle:
		v := values[0]
		return func(r *models.Person) { instagram(r).Handle = models.String(v) }, nil
	case FieldInstagramDisplayName:
		v := values[0]
		return func(r *models.Person) { instagram(r).DisplayName = models.String(v) }, nil
	case FieldInstagramUserID:
		id, err := parseUserID(f, values[0])
		if err != nil {
			return nil, err
		}
		return func(r *models.Person) { instagram(r).UserID = id }, nil

	case FieldXHandle:
		v := values[0]
		return func(r *models.Person) { x(r).Handle = models.String(v) }, nil
	case FieldXDisplayName:
		v := values[0]
		return func(r *models.Person) { x(r).DisplayName = models.String(v) }, nil
	case FieldXUserID:
		id, err := parseUserID(f, values[0])
		if err != nil {
			return nil, err
		}
		return func(r *models.Person) { x(r).UserID = id }, nil

	case FieldSchool:
		schools := make([]models.School, 0, len(values))
		for _, v := range nonEmpty(values) {
			s, err := ParseSchool(v)
			if err != nil {
				return nil, err
			}
			schools = append(schools, s)
		}
		return func(r *models.Person) { r.School = nilIfEmpty(schools) }, nil
	case FieldMisc:
		misc := nonEmpty(values)
		return func(r *models.Person) { r.Misc = misc }, nil
	}

	return nil, apperrors.Validation("unknown field", fmt.Errorf("%q", f))
}

// ParseSchool parses a "Name:Type" school entry
func ParseSchool(s string) (models.School, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return models.School{}, apperrors.Validation("invalid school",
			fmt.Errorf("%q is not of the form Name:Type", s))
	}
	name := strings.TrimSpace(s[:i])
	if name == "" {
		return models.School{}, apperrors.Validation("invalid school", fmt.Errorf("%q has no name", s))
	}
	t, err := models.ParseSchoolType(s[i+1:])
	if err != nil {
		return models.School{}, apperrors.Validation("invalid school", err)
	}
	return models.School{Name: name, SchoolType: t}, nil
}

func parseUserID(f Field, v string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, apperrors.Validation(fmt.Sprintf("invalid %s", f), err)
	}
	return id, nil
}

// A sub-field patch on an absent structure creates it
func discord(r *models.Person) *models.Discord {
	if r.Discord == nil {
		r.Discord = &models.Discord{}
	}
	return r.Discord
}

func instagram(r *models.Person) *models.SocialHandle {
	if r.Instagram == nil {
		r.Instagram = &models.SocialHandle{}
	}
	return r.Instagram
}

func x(r *models.Person) *models.SocialHandle {
	if r.X == nil {
		r.X = &models.SocialHandle{}
	}
	return r.X
}

// nonEmpty drops empty values, returning nil when none are left
func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func nilIfEmpty(s []models.School) []models.School {
	if len(s) == 0 {
		return nil
	}
	return s
}
