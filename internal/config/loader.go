package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Speaker is one voice in the two-voice reading
type Speaker struct {
	Name  string `yaml:"name"`
	Voice string `yaml:"voice"`
}

// Story represents the structure of story.yaml
type Story struct {
	Premise      string    `yaml:"premise"`
	SystemPrompt string    `yaml:"system_prompt"`
	Narrator     Speaker   `yaml:"narrator"`
	Guide        Speaker   `yaml:"guide"`
	Intros       []string  `yaml:"intros"`
	Transitions  []string  `yaml:"transitions"`
	Closings     []string  `yaml:"closings"`
	Goodbyes     []string  `yaml:"goodbyes"`
	Responses    Responses `yaml:"responses"`
}

// Responses are the short lines spoken by the call flow itself
type Responses struct {
	InvalidChoice string `yaml:"invalid_choice"`
	PageMissing   string `yaml:"page_missing"`
	Failure       string `yaml:"failure"`
}

// LoadStory loads story content from path on top of the built-in defaults.
// An empty path returns the defaults.
func LoadStory(path string) (*Story, error) {
	story := DefaultStory()
	if path == "" {
		return story, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading story file: %w", err)
	}

	err = yaml.Unmarshal(data, story)
	if err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	if err := story.Validate(); err != nil {
		return nil, fmt.Errorf("invalid story file %s: %w", path, err)
	}
	return story, nil
}

func (s *Story) Validate() error {
	var errs []error
	if s.Premise == "" {
		errs = append(errs, errors.New("premise is required"))
	}
	if s.Narrator.Name == "" || s.Guide.Name == "" {
		errs = append(errs, errors.New("narrator and guide names are required"))
	}
	if s.Narrator.Name == s.Guide.Name {
		errs = append(errs, errors.New("narrator and guide must be different speakers"))
	}
	if len(s.Intros) == 0 {
		errs = append(errs, errors.New("at least one intro is required"))
	}
	if len(s.Transitions) == 0 {
		errs = append(errs, errors.New("at least one transition line is required"))
	}
	if len(s.Closings) == 0 || len(s.Goodbyes) == 0 {
		errs = append(errs, errors.New("closings and goodbyes are required"))
	}
	return errors.Join(errs...)
}

// DefaultStory returns the content the service ships with
func DefaultStory() *Story {
	return &Story{
		Premise:      defaultPremise,
		SystemPrompt: defaultSystemPrompt,
		Narrator:     Speaker{Name: "Lee", Voice: "Algenib"},
		Guide:        Speaker{Name: "Katie", Voice: "Kore"},
		Intros:       append([]string(nil), defaultIntros...),
		Transitions: []string{
			"Now it is your turn to help us continue the story. You can choose what happens next: ",
			"What do you think should happen next? ",
			"I'm enjoying this story. What do you want to happen next? ",
			"Now its your turn. Pick what happens next in our story. ",
			"Let's see what happens next. You can choose what happens next in the story. ",
			"",
		},
		Closings: []string{
			"Well, that's the end of our story. I hope you enjoyed it! If you want to hear it again, just call back and we can read it together.",
			"That was a great story! I hope you enjoyed it. If you want to another story, just call back and we can keep reading together!",
			"I had a lot of fun reading this story with you! If you want to hear it again, just call back and we can read it together. See you next time!",
		},
		Goodbyes: []string{
			"Goodbye for now!",
			"Thanks for reading with us! Goodbye!",
			"I hope you enjoyed the story! Goodbye!",
			"It was fun reading with you! Goodbye!",
		},
		Responses: Responses{
			InvalidChoice: "Invalid choice. Please try again.",
			PageMissing:   "Sorry, we lost our place in the book. Let's start again.",
			Failure:       "Sorry, something went wrong with our story. Please call back later.",
		},
	}
}

const defaultPremise = "This story is the original Winnie the Pooh universe and is in the style and tone of the original author. " +
	"The reader is making decisions for how Winnie the Pooh will behave in the story, following typical actions and decisions that this character would typically make. " +
	"The story starts with Poo discovering in the first few pages that the tree that holds the beehive has fallen and the bees need help finding a new home. " +
	"Throught the rest of the story he works with Christopher Robin to help the bees move into a new home in a new tree. " +
	"By the end of the story, the bees have been moved to a new tree and share their appreciation by giving Pooh and his friends some honey. " +
	"The story is about friendship, helping others, and the joy of sharing. It is a lighthearted and fun story that is suitable for children of all ages."

const defaultSystemPrompt = "You are a choose your own adventure story generator for kids. " +
	"I will provide a story summary, and a portion of the story text. " +
	"You create story pages that will take about one minute to read, followed by instructions for chosing the next path in the story. " +
	"Don't reveal key plot elements until after the first several pages. " +
	"The full story is about 15 pages in length, with a clear beginning, middle, and end with a kid-friendly moral. " +
	"All responses are in the form of a raw json object that has a 'story' attribute with the portion that is read to the user, " +
	"as well as a 'prompts' attribute which is an array of strings that describe specific different actions the listener can take to continue the plot. " +
	"There are between two and four possible actions for the reader to chose, only if the story has come to a conclusion and at the end should there be zero actions to chose from."

var defaultIntros = []string{
	"Lee: Hello! I'm excited to be able to share a special story with you. My name is Lee and I really enjoy reading.  I'm joined by my friend Katie who will be helping us out with today's story.\n" +
		"Katie: That's right, I'm Katie and I'm looking forward to being able to help. Lee and I are going to be reading a story together, and after each page I will be giving you some choices that will help shape the story. You can press a button on your phone to pick what you want to happen next.\n" +
		"Lee: It's going to be really fun to see how the story turns out, should we begin?\n" +
		"Katie: Let's start, Lee!\n",

	"Katie: Hello! I'm excited that we have a story we are looking forward to sharing with you. My name is Katie and I really enjoy reading.  I'm joined by my friend Lee who will be helping read today's story.\n" +
		"Lee: That's right, I'm Lee and I'm looking forward to being able to read with you today. Katie and I are going to sharing this story together, I'll be reading and Katie will help you pick what you want to happen next as you shape how the story goes.\n" +
		"Katie: After each page I will be giving you some choices that will help shape the story. You can press a button on your phone to pick what you want to happen next.\n" +
		"Lee: It's going to be really fun to see how the story turns out, should we begin?\n" +
		"Katie: Let's start, Lee!\n",

	"Lee: Hello this is Lee!\n" +
		"Katie: And this is Katie, I'm here too!\n" +
		"Lee: We are excited to be able to share a special story with you. I'm joining my friend Katie so we can team up for today's story.\n" +
		"Katie: That's right, I'm looking forward to being able to help. Lee and I are going to be reading a story together, and after each page I will be giving you some choices that will help shape the story. You can press a button on your phone to pick what you want to happen next.\n" +
		"Lee: It's going to be really fun to see how the story turns out, should we begin?\n" +
		"Katie: Let's start, Lee!\n",

	"Katie: Hello, this is Katie!\n" +
		"Lee: And I'm Lee.\n" +
		"Katie: I'm excited that we have a story we are looking forward to sharing with you. Lee is joining us today to help us read today's story.\n" +
		"Lee: That's right, I love reading so this will be a lot of fun. Katie and I are going to be sharing this story with you together, I'll be reading and after each page Katie will give you some options to pick what you want to happen next.\n" +
		"Katie: You can press a button on your phone to pick one of the options I share with you. Depending on what you choose, the story will change!\n" +
		"Lee: It's going to be really fun to see how the story turns out, should we begin?\n" +
		"Katie: Let's start, Lee!\n",
}
