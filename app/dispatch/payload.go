package dispatch

import (
	"github.com/lysyi3m/autopress/app/database"
)

// Payload is the request body sent to the generation worker.
type Payload struct {
	TaskID       int64                            `json:"task_id"`
	CampaignID   string                           `json:"campaign_id"`
	Type         database.TaskType                `json:"type"`
	Topic        string                           `json:"topic,omitempty"`
	Keywords     string                           `json:"keywords,omitempty"`
	ResearchURL  string                           `json:"research_url,omitempty"`
	Title        string                           `json:"title,omitempty"`
	Slug         string                           `json:"slug,omitempty"`
	FeatureImage string                           `json:"feature_image,omitempty"`
	Tone         string                           `json:"tone,omitempty"`
	Language     string                           `json:"language,omitempty"`
	Taxonomy     database.TaxonomyRules           `json:"taxonomy"`
	Fields       map[string]database.ContentField `json:"fields"`
	Links        []Link                           `json:"internal_links,omitempty"`
	Callback     Callback                         `json:"callback"`
}

type Callback struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Content fields a task can override directly.
const (
	FieldTitle        = "title"
	FieldSlug         = "slug"
	FieldFeatureImage = "feature_image"
)

// MergeFields applies task overrides on top of the campaign field configuration.
// An overridden field is never generated.
func MergeFields(policy database.GenerationPolicy, task *database.Task) map[string]database.ContentField {
	fields := make(map[string]database.ContentField, len(policy.Fields)+3)
	for name, field := range policy.Fields {
		fields[name] = field
	}

	slug := task.SlugOverride
	if slug == "" && task.TitleOverride != "" {
		slug = Slugify(task.TitleOverride)
	}

	overrides := map[string]string{
		FieldTitle:        task.TitleOverride,
		FieldSlug:         slug,
		FieldFeatureImage: task.FeatureImage,
	}
	for name, value := range overrides {
		if value == "" {
			continue
		}
		field := fields[name]
		field.Generate = false
		field.Value = value
		fields[name] = field
	}

	return fields
}

func buildPayload(task *database.Task, campaign *database.Campaign, links []Link, callback Callback) Payload {
	fields := MergeFields(campaign.Generation, task)

	return Payload{
		TaskID:       task.ID,
		CampaignID:   campaign.ID,
		Type:         task.Type,
		Topic:        task.Topic,
		Keywords:     task.Keywords,
		ResearchURL:  task.ResearchURL,
		Title:        fields[FieldTitle].Value,
		Slug:         fields[FieldSlug].Value,
		FeatureImage: task.FeatureImage,
		Tone:         campaign.Generation.Tone,
		Language:     campaign.Generation.Language,
		Taxonomy:     campaign.Generation.Taxonomy,
		Fields:       fields,
		Links:        links,
		Callback:     callback,
	}
}
