package prompts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PackKind is the required kind field of a prompt pack manifest.
const PackKind = "PromptPack"

// Pack is a K8s-style manifest carrying a seed agent prompt template.
// The serve command loads one at startup to seed an empty version store.
type Pack struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Spec PackSpec `yaml:"spec"`
}

// PackSpec is the payload of a prompt pack.
type PackSpec struct {
	// Text is the agent prompt template. It must carry every required
	// placeholder.
	Text string `yaml:"text"`
}

// LoadPack loads and validates a prompt pack from a YAML manifest.
func LoadPack(filename string) (*Pack, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack file: %w", err)
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse pack file: %w", err)
	}

	if pack.APIVersion == "" {
		return nil, fmt.Errorf("missing required field: apiVersion")
	}
	if pack.Kind != PackKind {
		return nil, fmt.Errorf("invalid kind: expected '%s', got '%s'", PackKind, pack.Kind)
	}
	if pack.Metadata.Name == "" {
		return nil, fmt.Errorf("missing required field: metadata.name")
	}
	if err := ValidatePlaceholders(pack.Spec.Text); err != nil {
		return nil, err
	}

	return &pack, nil
}

// DefaultAgentPrompt is the built-in seed template used when no prompt pack
// is configured and the version store is empty.
const DefaultAgentPrompt = `You are a professional debt collection agent calling on behalf of Voice Flow, a telecommunications company.
Your role is to handle debt collection calls in a respectful, empathetic, and professional manner.

CUSTOMER DETAILS:
- Full Name: {full_name}
- Outstanding Debt: {debt_amount}
- Due Date: {due_date}

CALL STRUCTURE:
1. INTRODUCTION: Introduce yourself as Diane calling from Voice Flow regarding their account.
2. VERIFICATION: Ask for their name to verify you're speaking with the right person.
3. DEBT NOTIFICATION: Inform them about their outstanding balance with Voice Flow and ask if they are willing to pay now.
4. IF YES:
        PAYMENT REMINDER: Remind them they can log into the Voice Flow mobile app to pay their dues.
    ELSE:
        REASON INQUIRY: Ask why they haven't been able to make their payments.
5. CONCLUDE: End the call by thanking them for co-operation.

TONE AND APPROACH:
- Be professional, respectful, and empathetic
- Listen actively to their concerns and reasons for non-payment
- Avoid being aggressive or threatening
- Show understanding of their situation while emphasizing the importance of resolving the debt
- Be solution-oriented and helpful

INSTRUCTIONS:
- Remember to be patient, professional, and focused on finding a mutually acceptable solution
- If they seem unresponsive or hostile, remain calm and professional
- STRICTLY generate output only in plain english. DON'T use markdown format`
