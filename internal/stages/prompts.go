package stages

// ─── System prompts ───────────────────────────────────────────────────────────

const queryAnalysisSystemPrompt = `You are an intelligence analyst who decomposes investigation requests.

ROLE:
- Identify every target entity: people, organizations, locations, events
- Separate primary targets (named in the request) from secondary ones (implied or related)
- Classify complexity, sensitivity and investigation type
- Suggest information categories and collection approaches

OUTPUT FORMAT:
- Reply with a single JSON object and nothing else
- Every confidence is a number between 0 and 1`

const planningSystemPrompt = `You are an intelligence operations planner running a structured interview.

ROLE:
- Turn the request and its entities into a phased collection plan
- Phases are immediate, development and exploitation
- Choose an interview approach and the triggers that should cause a pivot
- Re-assess the plan as evidence arrives and say when the next phase can start

OUTPUT FORMAT:
- Reply with a single JSON object and nothing else`

const retrievalSystemPrompt = `You are an interviewer who gathers evidence by asking questions.

ROLE:
- Ask 2 to 4 focused questions, most important first
- Follow the current phase objectives and open information gaps
- Mix open-ended, relationship, timeline and verification questions
- Keep a conversational tone; one question per sentence

OUTPUT FORMAT:
- Reply with a single JSON object and nothing else`

const pivotSystemPrompt = `You are an analyst reviewing an interview answer.

ROLE:
- Rate the credibility of the answer between 0 and 1
- Extract actionable intelligence and key revelations as short factual statements
- Name new investigation angles and the information still missing
- Note contradictions and claims that need verification

OUTPUT FORMAT:
- Reply with a single JSON object and nothing else`

const synthesisSystemPrompt = `You are a senior analyst writing the final intelligence report.

ROLE:
- Summarize what was learned for a decision maker
- Rank key findings and cite the evidence that supports each one
- Profile each entity, note patterns and remaining gaps
- Recommend next steps and state your overall confidence between 0 and 1

OUTPUT FORMAT:
- Reply with a single JSON object and nothing else`

// ─── Prompt templates ─────────────────────────────────────────────────────────

const queryAnalysisPrompt = `Analyze this investigation request:
"%s"

Respond with JSON:
{
  "query_classification": {
    "complexity": "simple|moderate|complex|highly_complex",
    "sensitivity_level": "low|medium|high|critical",
    "investigation_type": "person|organization|location|multi-target|relationship_mapping",
    "estimated_scope": "narrow|broad|comprehensive"
  },
  "primary_entities": [
    {"name": "", "type": "person|organization|location|event|relationship", "priority": "critical|high|medium|low",
     "confidence": 0.0, "context_clues": [], "potential_aliases": []}
  ],
  "secondary_entities": [
    {"name": "", "type": "person|organization|location|event|relationship", "relationship_to_primary": "", "priority": "high|medium|low"}
  ],
  "information_requirements": {
    "primary_objectives": [], "information_categories": [], "specific_questions": []
  },
  "collection_strategy": {
    "recommended_approaches": [], "potential_sources": [], "risk_considerations": []
  }
}`

const createPlanPrompt = `Build an intelligence collection plan.

INVESTIGATION CONTEXT:
%s

Respond with JSON:
{
  "mission_analysis": {
    "primary_objectives": [], "success_criteria": [], "critical_information_requirements": []
  },
  "collection_strategy": {
    "phase_1_immediate": {"objectives": [], "collection_methods": [], "success_indicators": []},
    "phase_2_development": {"objectives": [], "collection_methods": [], "success_indicators": []},
    "phase_3_exploitation": {"objectives": [], "collection_methods": [], "success_indicators": []}
  },
  "interview_strategy": {
    "questioning_approach": "direct|indirect|layered|adaptive",
    "question_sequencing": [], "rapport_building": [], "verification_methods": [], "sensitive_topics": []
  },
  "coordination_plan": {
    "retrieval_agent_tasks": [], "pivot_agent_triggers": [], "synthesis_checkpoints": []
  },
  "risk_management": {"operational_risks": [], "contingency_plans": []},
  "resource_allocation": {"time_estimates": {"phase_1": "", "phase_2": "", "phase_3": ""}}
}`

const updateStrategyPrompt = `Re-assess the investigation strategy with the latest intelligence.

CURRENT SITUATION:
%s

Respond with JSON:
{
  "strategy_assessment": {
    "current_phase_status": "on_track|needs_adjustment|pivot_required",
    "objective_completion": {"completed": [], "in_progress": [], "blocked": []},
    "new_opportunities": []
  },
  "tactical_adjustments": {
    "questioning_modifications": [], "focus_shifts": [], "new_collection_targets": [], "pivot_recommendations": []
  },
  "next_phase_preparation": {
    "readiness_assessment": "ready|needs_more_intel|major_gaps"
  }
}`

const questionsPrompt = `Write the next interview questions.

INVESTIGATION CONTEXT:
%s

Respond with JSON:
{
  "question_strategy": {
    "primary_approach": "direct|indirect|layered|verification|exploration",
    "questioning_phase": "opening|development|probing|verification|closing",
    "information_priority": "critical|high|medium|exploratory"
  },
  "questions": [
    {"question_text": "", "question_type": "open_ended|closed|hypothetical|timeline|relationship|verification",
     "strategic_purpose": "", "priority": "critical|high|medium|low"}
  ],
  "questioning_sequence": {
    "opening_questions": [], "core_questions": [], "verification_questions": []
  },
  "tactical_considerations": {"sensitivity_factors": [], "pivot_opportunities": []}
}`

const adaptQuestionsPrompt = `Adapt the interview questions to the latest answer analysis.

PIVOT ANALYSIS:
%s

Respond with JSON:
{
  "adaptation_strategy": {
    "pivot_response": "expand|focus|verify|redirect|probe_deeper",
    "new_priorities": []
  },
  "adapted_questions": [
    {"question_text": "", "adaptation_reason": "", "priority": "critical|high|medium|low"}
  ],
  "follow_up_strategy": {"immediate_follow_ups": [], "verification_needs": []}
}`

const pivotPrompt = `Analyze this interview answer.

CONTEXT:
%s

ANSWER:
"%s"

Respond with JSON:
{
  "intelligence_value": {
    "credibility_score": 0.0,
    "information_density": "low|medium|high",
    "new_entities_mentioned": [],
    "key_revelations": []
  },
  "pivot_opportunities": {
    "new_investigation_angles": [], "information_gaps_identified": [], "potential_connections": []
  },
  "strategic_recommendations": {
    "next_focus_areas": [], "questioning_strategy": "direct|indirect|probing|verification"
  },
  "evidence_assessment": {
    "actionable_intelligence": [], "requires_verification": [], "contradictions_noted": []
  }
}`

const reportPrompt = `Write the final intelligence report from everything collected.

INVESTIGATION CONTEXT:
%s

Respond with JSON:
{
  "executive_summary": "",
  "key_findings": [
    {"finding": "", "confidence_score": 0.0, "supporting_evidence": [], "significance": "high|medium|low"}
  ],
  "entity_profiles": [
    {"entity_name": "", "entity_type": "", "profile_summary": "", "key_attributes": {}, "relationships": [], "confidence_score": 0.0}
  ],
  "patterns_and_connections": [
    {"pattern": "", "entities_involved": [], "significance": "high|medium|low", "confidence": 0.0}
  ],
  "remaining_gaps": [
    {"gap_description": "", "priority": "high|medium|low", "recommended_approach": ""}
  ],
  "strategic_recommendations": [
    {"recommendation": "", "rationale": "", "priority": "high|medium|low", "timeline": "immediate|short-term|long-term"}
  ],
  "intelligence_assessment": {
    "overall_confidence": 0.0,
    "information_quality": "excellent|good|fair|poor",
    "coverage_completeness": 0.0,
    "reliability_assessment": "high|medium|low"
  }
}`
