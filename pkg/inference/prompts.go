package inference

const summaryPrompt = `Summarize the following blog post for a reader deciding whether to open it.
Write two or three sentences that name the concrete argument or finding of the post,
preferring specific details over general statements.

Also rate its technical density:
1 = accessible to a general audience, 2 = assumes some technical background,
3 = deep technical material that needs careful reading.

Post:
%s`

const topicsPrompt = `Tag the following blog post with topics.

Choose every topic from the existing list that clearly applies and return it unchanged
in "matched_topics". If an important subject of the post is not covered, suggest at most
three new topics in "new_topic_suggestions". New topics must be short, lowercase and
kebab-case (for example "distributed-systems"). Do not suggest a topic already in the list.

Existing topics:
%s

Post:
%s`

const schemaRules = `The configuration must have this shape:

{
  "post_item_selector": "CSS selector matching each post in the list",
  "fields": {
    "title":    {"selector": "CSS selector inside the post item"},
    "post_url": {"selector": "CSS selector for the <a> link inside the post item",
                 "base_url_handling": "relative_to_page or absolute"},
    "date":     {"selector": "CSS selector inside the post item",
                 "attribute": "attribute holding the date, e.g. datetime, or omit to use the text",
                 "format": "strptime format such as %%B %%d, %%Y",
                 "fallback_formats": ["other strptime formats seen on the page"]}
  }
}

Selectors inside "fields" are relative to the post item. Use "relative_to_page" when links
are relative paths and "absolute" when they are full URLs. Prefer selectors that survive
small redesigns. If dates are missing from most posts, still give your best guess.`

const generateSchemaPrompt = `You write extraction configurations for a blog monitoring service.
Read the HTML of the blog's listing page and produce a JSON configuration that finds each post.

` + schemaRules + `

Blog page URL: %s
HTML body:
%s`

const refineSchemaPrompt = `You write extraction configurations for a blog monitoring service.
A previous configuration for this blog's listing page did not work well. Improve it so that it
finds every post with its title, link and date.

` + schemaRules + `

Previous configuration:
%s

What the previous configuration extracted:
%s

Reviewer feedback:
%s

Blog page URL: %s
HTML body:
%s`

var summarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary":           map[string]any{"type": "string"},
		"technical_density": map[string]any{"type": "integer", "enum": []int{1, 2, 3}},
	},
	"required":             []string{"summary", "technical_density"},
	"additionalProperties": false,
}

var topicsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"matched_topics": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"new_topic_suggestions": map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string"},
			"maxItems": maxNewTopics,
		},
	},
	"required":             []string{"matched_topics", "new_topic_suggestions"},
	"additionalProperties": false,
}

var ruleSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"selector":          map[string]any{"type": "string"},
		"attribute":         map[string]any{"type": "string"},
		"base_url_handling": map[string]any{"type": "string", "enum": []string{"relative_to_page", "absolute"}},
		"format":            map[string]any{"type": "string"},
		"fallback_formats":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"selector"},
}

var extractionSchemaSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"post_item_selector": map[string]any{"type": "string"},
		"fields": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":    ruleSchema,
				"post_url": ruleSchema,
				"date":     ruleSchema,
			},
			"required": []string{"title", "post_url"},
		},
	},
	"required": []string{"post_item_selector", "fields"},
}
