package models

const (
	// ContextSeparator joins fragment texts inside a prompt.
	ContextSeparator = "\n---\n"

	// DefaultQueryBasis is embedded when the caller supplies neither a basis
	// text nor keywords.
	DefaultQueryBasis = "What are the key clinical findings, diagnoses, treatments and plans?"

	// DedupPrefixLen is the cheap near-duplicate signature length used when
	// merging retrieval tiers.
	DedupPrefixLen = 200

	// PreviewLen bounds citation preview text.
	PreviewLen = 160

	// NoInformationPhrase is the required fallback answer when the retrieved
	// context does not contain the information asked about.
	NoInformationPhrase = "The available reports do not contain information about this."
)

// StructuralSections are the clinically dense report headers whose fragments
// are always retrieved, regardless of similarity rank.
var StructuralSections = []string{"FINDINGS", "IMPRESSION", "CONCLUSION"}

var (
	ClassifyPromptTemplate = `Analyze the following medical report excerpts and classify the patient specialty.

RETURN ONLY ONE WORD: oncology, speech, or general

Rules:
- Return "oncology" if reports mention cancer, tumors, chemotherapy, radiation, TNM staging, oncology visits
- Return "speech" if reports mention audiology, hearing loss, audiograms, speech therapy, tinnitus, hearing aids
- Return "general" for other medical cases (cardiology, internal medicine, etc.)

Medical Reports:
%s

Classification (one word only):`

	EvolutionPromptTemplate = `You are a medical AI. Write a concise 2-3 sentence narrative describing the patient's medical journey from diagnosis to current state.

Focus on:
- Initial presentation/diagnosis
- Key treatments or interventions
- Current status

Base the narrative STRICTLY on the reports below. Do not invent dates or events that are not present. If the reports contradict each other (for example a shrinking tumor reported after its surgical removal), say so explicitly with the marker "WARNING:" instead of reconciling silently.

Medical Reports:
%s

Narrative (2-3 sentences):`

	CurrentStatusPromptTemplate = `Extract the patient's CURRENT medical status as 3-5 concise bullet points.

Focus on:
- Current symptoms or conditions
- Latest test results or findings
- Current treatment status
- Active issues

Only state a negative finding (such as "no metastasis") if it is written in the reports. Never infer a negative from silence.

RETURN ONLY bullet points, one per line, starting with a dash. No other text.

Medical Reports:
%s

Current Status:
-`

	PlanPromptTemplate = `Extract the treatment PLAN and next steps as 3-5 concise bullet points.

Focus on:
- Planned treatments or procedures
- Follow-up appointments
- Monitoring or testing
- Recommendations

Only include forward-looking items. RETURN ONLY bullet points, one per line, starting with a dash. No other text.

Medical Reports:
%s

Plan:
-`

	OncologyPromptTemplate = `Extract oncology data from the medical reports and return ONLY valid JSON.

Extract:
1. Tumor size measurements with dates (look for measurements in cm, dimensions)
2. TNM staging (e.g., T2N0M0)
3. Cancer type
4. Grade
5. Biomarkers (ER, PR, HER2, Ki-67, etc.)
6. Treatment response
7. Pertinent negatives that are explicitly documented (e.g., "No metastasis")

RETURN ONLY THIS JSON STRUCTURE (use null for missing data):
{
  "tumor_size_trend": [
    {"date": "YYYY-MM-DD", "size_cm": 2.3}
  ],
  "tnm_staging": "T2N0M0",
  "cancer_type": "Cancer type",
  "grade": "Grade description",
  "biomarkers": {"ER": "positive", "PR": "positive"},
  "treatment_response": "Response description",
  "pertinent_negatives": ["No metastasis"]
}

Medical Reports:
%s

JSON:`

	SpeechPromptTemplate = `Extract audiology data from the medical reports and return ONLY valid JSON.

Extract:
1. Audiogram frequencies (500Hz, 1000Hz, 2000Hz, 4000Hz, 8000Hz) for left and right ears (dB HL values)
2. Speech scores (SRT in dB, WRS as percentage)
3. Hearing loss type (Sensorineural, Conductive, Mixed)
4. Severity (Mild, Moderate, Severe, Profound)
5. Tinnitus presence (true/false)
6. Amplification device
7. Pertinent negatives that are explicitly documented (e.g., "No conductive loss")

If the reports contain more than one audiogram, return the most recent one as "audiogram" and the earliest one as "prior_audiogram".

RETURN ONLY THIS JSON STRUCTURE (use null for missing data):
{
  "audiogram": {
    "left": {"500Hz": 45, "1000Hz": 50, "2000Hz": 55, "4000Hz": 60},
    "right": {"500Hz": 40, "1000Hz": 48, "2000Hz": 52, "4000Hz": 58},
    "test_date": "YYYY-MM-DD"
  },
  "prior_audiogram": null,
  "speech_scores": {"srt_db": 45, "wrs_percent": 82},
  "hearing_loss_type": "Sensorineural",
  "hearing_loss_severity": "Moderate",
  "tinnitus": true,
  "amplification": "Device description",
  "pertinent_negatives": ["No conductive loss"]
}

Medical Reports:
%s

JSON:`

	SingleShotPromptTemplate = `You are a medical AI assistant. Generate a concise clinical summary of the patient's reports below.

Cover the medical journey, current status and next steps. Base EVERYTHING on the reports; do not invent findings, dates or events.

Medical Reports:
%s

Summary:`

	QuestionPromptTemplate = `You are a medical AI assistant. Answer the question using ONLY the report excerpts below.

If the excerpts do not contain the answer, reply exactly: "%s"

Medical Reports:
%s

Question: %s

Answer:`
)
