package app

import "fmt"

// mockDocumentText synthesizes source-document content for mock runs.
func mockDocumentText(docID string) string {
	return fmt.Sprintf(`Specification %s

Scope: earthworks and drainage for the northern alignment.
All soil testing shall comply with AS 1289. Quality management per ISO 9001.
Work packages include bulk earthworks, subsoil drainage and pavement works.`, docID)
}

// mockResponses are the canned model outputs keyed by prompt fragments. The
// fragments match the instruction line each stage puts at the top of its
// prompt, so every stage gets an answer in its own schema.
func mockResponses() map[string]string {
	return map[string]string{
		"register metadata": `{
			"document_number": "SPEC-001",
			"revision_code": "B",
			"title": "Earthworks Specification",
			"discipline": "civil",
			"document_type": "specification",
			"tags": ["specification", "earthworks"]
		}`,
		"project details": `{
			"project_name": "Northern Alignment Upgrade",
			"project_number": "NAU-2025",
			"client": "State Roads Authority",
			"contractor": "Example Civil Pty Ltd",
			"location": "Northern corridor",
			"contract_type": "construct only",
			"scope_summary": "Earthworks, drainage and pavements for the northern alignment.",
			"key_dates": {"commencement": "2025-03-01"}
		}`,
		"technical standard": `{
			"standards": [
				{"standard_code": "AS 1289", "spec_name": "Methods of testing soils", "org_identifier": "AS", "section_reference": "3.6.1", "context": "soil testing compliance", "document_ids": []},
				{"standard_code": "ISO 9001", "spec_name": "Quality management systems", "org_identifier": "ISO", "section_reference": "", "context": "quality management", "document_ids": []}
			]
		}`,
		"management plan": `{
			"title": "Management Plan",
			"sections": [{"heading": "Purpose", "body": "Defines how the works are managed."}],
			"responsibilities": {"project_manager": "overall delivery"},
			"references": ["ISO 9001"]
		}`,
		"WBS architect": `{
			"nodes": [
				{"id": "project-0", "parent_id": "", "node_type": "project", "name": "Northern Alignment Upgrade", "description": "Whole of works", "source_reference_uuids": [], "itp_required": false, "is_leaf_node": false},
				{"id": "project-0-section-0", "parent_id": "project-0", "node_type": "section", "name": "Earthworks", "description": "Bulk and detailed earthworks", "source_reference_uuids": [], "itp_required": false, "is_leaf_node": false},
				{"id": "project-0-section-0-wp-0", "parent_id": "project-0-section-0", "node_type": "work_package", "name": "Bulk Earthworks", "description": "Cut to fill operations", "source_reference_uuids": [], "itp_required": true, "is_leaf_node": true}
			]
		}`,
		"location breakdown": `{
			"nodes": [
				{"id": "site-0", "parent_id": "", "name": "Northern Corridor", "location_type": "site"},
				{"id": "site-0-zone-0", "parent_id": "site-0", "name": "Chainage 0-500", "location_type": "zone"}
			],
			"lot_cards": [
				{"lot_id": "LOT-001", "location_id": "site-0-zone-0", "wbs_node_id": "project-0-section-0-wp-0", "description": "Bulk earthworks, chainage 0-500"}
			]
		}`,
		"inspection and test plan": `{
			"title": "ITP: Bulk Earthworks",
			"itp_items": [
				{"activity": "Subgrade preparation", "acceptance_criteria": "Density ratio >= 98%", "inspection_type": "test", "hold_point": true, "records": "compaction test report"}
			]
		}`,
	}
}
