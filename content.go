package gatekeeper

// OnboardingQuestion is one step of the onboarding flow
type OnboardingQuestion struct {
	Index                 int      `json:"index"`
	Description           string   `json:"description"`
	Question              string   `json:"question"`
	AdditionalDescription string   `json:"additional_description,omitempty"`
	Examples              []string `json:"examples"`
	// HasCheckbox offers to turn the answer into a gift card
	HasCheckbox bool `json:"has_checkbox,omitempty"`
}

// OnboardingQuestions are asked in order, indexes start at 1
var OnboardingQuestions = []OnboardingQuestion{
	{
		Index:       1,
		Description: "This part helps us understand what really moves you beyond professional roles. It looks for the energy you produce once obligations are gone.",
		Question:    "If you had nothing to prove and nothing you had to do, what would you most enjoy spending your time on?",
		Examples: []string{
			"Simplifying complex systems",
			"Telling stories that give people new perspectives",
			"Working the soil and growing something tangible",
		},
	},
	{
		Index:                 2,
		Description:           "Work that flows like play for you can be a hard obstacle for others. This effortless zone is your strongest point of connection in the system.",
		Question:              "What is the core skill that feels effortless to you, that you enjoy while doing it, but that is a real workload for others?",
		AdditionalDescription: "This is your effortless production zone. You solve in one breath what others spend hours on.",
		Examples: []string{
			"Reading and steering group dynamics",
			"Spotting hidden patterns in data at a glance",
			"Designing things that are both beautiful and useful",
		},
	},
	{
		Index:                 3,
		Description:           "Nobody is productive at everything. Knowing where you need someone else's expertise to protect your own energy is the basis of a healthy team.",
		Question:              "Which tasks drain your energy? Where do you need someone else's expertise, the part you wish somebody would take over?",
		AdditionalDescription: "What is a burden for you can be an enjoyable craft for someone else.",
		Examples: []string{
			"Detailed budget and spreadsheet tracking",
			"Technical infrastructure and coding",
			"Long term operational planning",
		},
	},
	{
		Index:                 4,
		Description:           "This step creates your first concrete connection in the ecosystem. A contribution you offer effortlessly can be someone else's biggest solution.",
		Question:              "To build your first professional connection here, what is the most concrete contribution you could offer someone today, gladly and effortlessly?",
		AdditionalDescription: "This contribution becomes the basis of your GIVE card.",
		Examples: []string{
			"A 20 minute strategic brainstorm for a project",
			"Sketching a quick logo or visual draft",
			"Reviewing an important text or presentation and giving feedback",
		},
		HasCheckbox: true,
	},
}

// QuestionCount is the number of onboarding steps
func QuestionCount() int {
	return len(OnboardingQuestions)
}

// Question returns the question for a 1 based step
func Question(step int) (OnboardingQuestion, bool) {
	if step < 1 || step > len(OnboardingQuestions) {
		return OnboardingQuestion{}, false
	}
	return OnboardingQuestions[step-1], true
}
