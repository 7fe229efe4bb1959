package catalog

// DefaultItems is the reference table used when no catalog_item table is
// configured. Prices are in minor currency units.
func DefaultItems() []Item {
	return []Item{
		// Laboratory
		{ID: "lab-tsh", Name: "TSH", Category: CategoryTest, Price: 45000, BodySystem: strPtr("endocrine"), Code: strPtr("3016-3")},
		{ID: "lab-ft4", Name: "Free T4", Category: CategoryTest, Price: 52000, BodySystem: strPtr("endocrine"), Code: strPtr("3024-7")},
		{ID: "lab-cbc", Name: "Complete Blood Count", Category: CategoryTest, Price: 38000, BodySystem: strPtr("hematologic"), Code: strPtr("58410-2")},
		{ID: "lab-cmp", Name: "Comprehensive Metabolic Panel", Category: CategoryTest, Price: 96000, BodySystem: strPtr("metabolic"), Code: strPtr("24323-8")},
		{ID: "lab-crp", Name: "C-Reactive Protein", Category: CategoryTest, Price: 41000, BodySystem: strPtr("immune"), Code: strPtr("1988-5")},
		{ID: "lab-bcx", Name: "Blood Culture", Category: CategoryTest, Price: 120000, BodySystem: strPtr("infectious"), Code: strPtr("600-7")},
		{ID: "lab-lipid", Name: "Lipid Panel", Category: CategoryTest, Price: 64000, BodySystem: strPtr("cardiovascular"), Code: strPtr("57698-3")},
		{ID: "lab-trop", Name: "Troponin I", Category: CategoryTest, Price: 88000, BodySystem: strPtr("cardiovascular"), Code: strPtr("10839-9")},
		{ID: "lab-hba1c", Name: "HbA1c", Category: CategoryTest, Price: 58000, BodySystem: strPtr("endocrine"), Code: strPtr("4548-4")},
		{ID: "lab-ua", Name: "Urinalysis", Category: CategoryTest, Price: 25000, BodySystem: strPtr("renal"), Code: strPtr("24356-8")},
		{ID: "lab-hiv", Name: "HIV Ab/Ag Combo", Category: CategoryTest, Price: 110000, RequiresConsent: true, BodySystem: strPtr("infectious"), Code: strPtr("75622-1")},
		{ID: "lab-brca", Name: "BRCA1/2 Genetic Panel", Category: CategoryTest, Price: 2400000, RequiresConsent: true, BodySystem: strPtr("genetic"), Code: strPtr("38531-0")},

		// Procedures
		{ID: "proc-ecg", Name: "Electrocardiogram", Category: CategoryProcedure, Price: 75000, BodySystem: strPtr("cardiovascular"), Code: strPtr("93000")},
		{ID: "proc-echo", Name: "Echocardiogram", Category: CategoryProcedure, Price: 420000, BodySystem: strPtr("cardiovascular"), Code: strPtr("93306")},
		{ID: "proc-cxr", Name: "Chest X-Ray", Category: CategoryProcedure, Price: 130000, BodySystem: strPtr("respiratory"), Code: strPtr("71046")},
		{ID: "proc-thyroid-us", Name: "Thyroid Ultrasound", Category: CategoryProcedure, Price: 210000, BodySystem: strPtr("endocrine"), Code: strPtr("76536")},
		{ID: "proc-colonoscopy", Name: "Colonoscopy", Category: CategoryProcedure, Price: 1450000, RequiresConsent: true, BodySystem: strPtr("digestive"), Code: strPtr("45378")},

		// Medicines
		{ID: "med-levo-50", Name: "Levothyroxine 50mcg", Category: CategoryMedicine, Price: 18000, BodySystem: strPtr("endocrine"), Form: strPtr("tablet"), Dosage: strPtr("Take 1 tablet by mouth every morning on an empty stomach")},
		{ID: "med-para-500", Name: "Paracetamol 500mg", Category: CategoryMedicine, Price: 6000, Form: strPtr("tablet"), Dosage: strPtr("Take 1 tablet by mouth every 8 hours as needed for fever")},
		{ID: "med-atorva-20", Name: "Atorvastatin 20mg", Category: CategoryMedicine, Price: 32000, BodySystem: strPtr("cardiovascular"), Form: strPtr("tablet")},
		{ID: "med-asa-81", Name: "Aspirin 81mg", Category: CategoryMedicine, Price: 9000, BodySystem: strPtr("cardiovascular"), Form: strPtr("tablet")},
		{ID: "med-amox-500", Name: "Amoxicillin 500mg", Category: CategoryMedicine, Price: 21000, BodySystem: strPtr("infectious"), Form: strPtr("capsule")},

		// Diagnoses
		{ID: "dx-e03.9", Name: "E03.9 Hypothyroidism, unspecified", Category: CategoryDiagnosis, BodySystem: strPtr("endocrine"), Code: strPtr("E03.9")},
		{ID: "dx-r50.9", Name: "R50.9 Fever, unspecified", Category: CategoryDiagnosis, Code: strPtr("R50.9")},
		{ID: "dx-z20.6", Name: "Z20.6 Contact with and exposure to HIV", Category: CategoryDiagnosis, BodySystem: strPtr("infectious"), Code: strPtr("Z20.6")},
		{ID: "dx-i20.9", Name: "I20.9 Angina pectoris, unspecified", Category: CategoryDiagnosis, BodySystem: strPtr("cardiovascular"), Code: strPtr("I20.9")},
		{ID: "dx-r53.83", Name: "R53.83 Other fatigue", Category: CategoryDiagnosis, Code: strPtr("R53.83")},
		{ID: "dx-z00.00", Name: "Z00.00 General adult medical examination", Category: CategoryDiagnosis, Code: strPtr("Z00.00")},
	}
}

// MustDefaultReference builds the default reference table. The seed is
// static, so a failure here is a programming error.
func MustDefaultReference() *Reference {
	r, err := NewReference(DefaultItems())
	if err != nil {
		panic(err)
	}
	return r
}
