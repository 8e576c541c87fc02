package invoice

// CredentialSubject is the organisational identity printed on an invoice.
// The values are fixed per role.
type CredentialSubject struct {
	Type               string       `json:"type"`
	LegalName          string       `json:"legalName"`
	RegistrationNumber string       `json:"registrationNumber"`
	VATID              string       `json:"vatId"`
	LegalAddress       LegalAddress `json:"legalAddress"`
	Email              string       `json:"email"`
	TermsAndConditions string       `json:"termsAndConditions"`
}

type LegalAddress struct {
	StreetAddress          string `json:"streetAddress"`
	PostalCode             string `json:"postalCode"`
	Locality               string `json:"locality"`
	CountrySubdivisionCode string `json:"countrySubdivisionCode"`
}

var identities = map[Role]CredentialSubject{
	RoleSeller: {
		Type:               "gx:LegalParticipant",
		LegalName:          "Data Asset Publisher",
		RegistrationNumber: "HRB 000001",
		VATID:              "DE000000001",
		LegalAddress: LegalAddress{
			StreetAddress:          "Publisher Street 1",
			PostalCode:             "10115",
			Locality:               "Berlin",
			CountrySubdivisionCode: "DE-BE",
		},
		Email:              "billing@publisher.example",
		TermsAndConditions: "https://publisher.example/terms",
	},
	RoleMarket: {
		Type:               "gx:LegalParticipant",
		LegalName:          "Marketplace Operator",
		RegistrationNumber: "HRB 000002",
		VATID:              "DE000000002",
		LegalAddress: LegalAddress{
			StreetAddress:          "Market Square 2",
			PostalCode:             "80331",
			Locality:               "Munich",
			CountrySubdivisionCode: "DE-BY",
		},
		Email:              "billing@market.example",
		TermsAndConditions: "https://market.example/terms",
	},
	RoleProvider: {
		Type:               "gx:LegalParticipant",
		LegalName:          "Compute and Access Provider",
		RegistrationNumber: "HRB 000003",
		VATID:              "DE000000003",
		LegalAddress: LegalAddress{
			StreetAddress:          "Provider Lane 3",
			PostalCode:             "20095",
			Locality:               "Hamburg",
			CountrySubdivisionCode: "DE-HH",
		},
		Email:              "billing@provider.example",
		TermsAndConditions: "https://provider.example/terms",
	},
	RolePlatform: {
		Type:               "gx:LegalParticipant",
		LegalName:          "Platform Community",
		RegistrationNumber: "HRB 000004",
		VATID:              "DE000000004",
		LegalAddress: LegalAddress{
			StreetAddress:          "Community Road 4",
			PostalCode:             "50667",
			Locality:               "Cologne",
			CountrySubdivisionCode: "DE-NW",
		},
		Email:              "billing@platform.example",
		TermsAndConditions: "https://platform.example/terms",
	},
}

// Identity returns the identity block for role.
func Identity(role Role) CredentialSubject {
	return identities[role]
}
