package schema

// ExampleSchema is an illustrative schema substituted when no catalog
// elements match a question, so the model always sees some schema.
const ExampleSchema = `
   customers table:
   Description: Contains all customer information
      * customer_id: Unique identifier for each customer
      * name: Customer's full name
      * email: Customer's email address
      * phone: Customer's phone number
      * address: Customer's physical address
      * signup_date: Date the customer signed up
      * last_purchase_date: Date of the customer's most recent purchase

   products table:
   Description: Information about products sold
      * product_id: Unique identifier for each product
      * product_name: Name of the product
      * category: Category the product belongs to (laptop, software, etc.)
      * price: Current price of the product
      * release_date: Date the product was released
      * description: Detailed description of the product

   purchases table:
   Description: Record of all customer purchases
      * purchase_id: Unique identifier for each purchase
      * customer_id: ID of the customer who made the purchase
      * product_id: ID of the product that was purchased
      * purchase_date: Date the purchase was made
      * quantity: Number of items purchased
      * total_amount: Total amount of the purchase

   customer_support table:
   Description: Customer support tickets and interactions
      * ticket_id: Unique identifier for each support ticket
      * customer_id: ID of the customer who opened the ticket
      * product_id: ID of the product the ticket is about
      * issue_description: Description of the customer's issue
      * status: Current status of the ticket (open, in progress, resolved)
      * created_date: Date the ticket was created
      * resolved_date: Date the ticket was resolved`

// CompaniesTables describes the sample financial-markets database used as the
// default hardcoded schema and as demo catalog content.
func CompaniesTables() []Table {
	companyFK := func(col string) ForeignKey {
		return ForeignKey{Column: col, ForeignTable: "companies", ForeignColumn: "company_id"}
	}

	return []Table{
		{
			Name:        "analyst_estimates",
			Description: "Wall Street analyst recommendations and price targets",
			Columns: []Column{
				{Name: "estimate_id", Type: "integer", IsPK: true, Comment: "Primary key for analyst estimate records"},
				{Name: "company_id", Type: "integer", Comment: "Foreign key linking to companies table"},
				{Name: "analyst_firm", Type: "character varying", Nullable: true, Comment: "Name of the firm providing the analysis"},
				{Name: "target_price", Type: "numeric", Nullable: true, Comment: "Analyst's 12-month price target"},
				{Name: "recommendation", Type: "character varying", Nullable: true, Comment: "Analyst's recommendation (Buy, Sell, Hold, etc.)"},
				{Name: "estimated_eps_next_quarter", Type: "numeric", Nullable: true, Comment: "Projected earnings per share for next quarter"},
				{Name: "estimated_revenue_next_quarter", Type: "numeric", Nullable: true, Comment: "Projected revenue for next quarter"},
				{Name: "estimate_date", Type: "date", Nullable: true, Comment: "Date when the estimate was published"},
			},
			ForeignKeys: []ForeignKey{companyFK("company_id")},
		},
		{
			Name:        "companies",
			Description: "Basic information about companies including sector, industry, and key details",
			Columns: []Column{
				{Name: "company_id", Type: "integer", IsPK: true, Comment: "Primary key and unique identifier for each company"},
				{Name: "ticker", Type: "character varying", Comment: "Stock market ticker symbol"},
				{Name: "company_name", Type: "character varying", Comment: "Full legal name of the company"},
				{Name: "sector", Type: "character varying", Nullable: true, Comment: "Economic sector the company operates in"},
				{Name: "industry", Type: "character varying", Nullable: true, Comment: "Specific industry within the sector"},
				{Name: "founded_date", Type: "date", Nullable: true, Comment: "Date when the company was founded"},
				{Name: "headquarters", Type: "character varying", Nullable: true, Comment: "Location of company headquarters"},
				{Name: "employee_count", Type: "integer", Nullable: true, Comment: "Number of employees at the company"},
				{Name: "ceo_name", Type: "character varying", Nullable: true, Comment: "Name of the current CEO"},
			},
		},
		{
			Name:        "company_financials",
			Description: "Quarterly and annual financial data for companies including revenue and profits",
			Columns: []Column{
				{Name: "financial_id", Type: "integer", IsPK: true, Comment: "Primary key for financial records"},
				{Name: "company_id", Type: "integer", Comment: "Foreign key linking to companies table"},
				{Name: "fiscal_year", Type: "integer", Comment: "Year of the financial reporting period"},
				{Name: "fiscal_quarter", Type: "integer", Nullable: true, Comment: "Quarter of the financial reporting period (1-4)"},
				{Name: "revenue", Type: "numeric", Nullable: true, Comment: "Total sales during the reported period"},
				{Name: "gross_profit", Type: "numeric", Nullable: true, Comment: "Revenue minus cost of goods sold"},
				{Name: "operating_income", Type: "numeric", Nullable: true, Comment: "Profit from operations before interest and taxes"},
				{Name: "net_income", Type: "numeric", Nullable: true, Comment: "Profit after all expenses and taxes"},
				{Name: "eps", Type: "numeric", Nullable: true, Comment: "Earnings per share"},
				{Name: "total_assets", Type: "numeric", Nullable: true, Comment: "Total value of assets owned by the company"},
				{Name: "total_liabilities", Type: "numeric", Nullable: true, Comment: "Total debts and obligations owed by the company"},
				{Name: "cash_and_equivalents", Type: "numeric", Nullable: true, Comment: "Cash and liquid assets available to the company"},
				{Name: "report_date", Type: "date", Nullable: true, Comment: "Date when the financial report was published"},
			},
			ForeignKeys: []ForeignKey{companyFK("company_id")},
		},
		{
			Name:        "stock_prices",
			Description: "Daily stock price data for companies",
			Columns: []Column{
				{Name: "price_id", Type: "integer", IsPK: true, Comment: "Primary key for stock price records"},
				{Name: "company_id", Type: "integer", Comment: "Foreign key linking to companies table"},
				{Name: "price_date", Type: "date", Comment: "Date of the stock price information"},
				{Name: "open_price", Type: "numeric", Nullable: true, Comment: "Stock price at market open"},
				{Name: "high_price", Type: "numeric", Nullable: true, Comment: "Highest stock price during the trading day"},
				{Name: "low_price", Type: "numeric", Nullable: true, Comment: "Lowest stock price during the trading day"},
				{Name: "close_price", Type: "numeric", Nullable: true, Comment: "Stock closing price for the day"},
				{Name: "volume", Type: "bigint", Nullable: true, Comment: "Number of shares traded"},
				{Name: "adj_close", Type: "numeric", Nullable: true, Comment: "Adjusted closing price accounting for corporate actions"},
			},
			ForeignKeys: []ForeignKey{companyFK("company_id")},
		},
		{
			Name:        "supply_chain",
			Description: "Information about supplier relationships between companies",
			Columns: []Column{
				{Name: "relationship_id", Type: "integer", IsPK: true, Comment: "Primary key for supply chain relationship records"},
				{Name: "company_id", Type: "integer", Comment: "Foreign key linking to companies table (the buyer)"},
				{Name: "supplier_id", Type: "integer", Comment: "Foreign key linking to companies table (the supplier)"},
				{Name: "component", Type: "character varying", Nullable: true, Comment: "Component or service provided by the supplier"},
				{Name: "annual_value", Type: "numeric", Nullable: true, Comment: "Annual contract value in dollars"},
				{Name: "contract_start_date", Type: "date", Nullable: true, Comment: "Start date of the supplier contract"},
				{Name: "contract_end_date", Type: "date", Nullable: true, Comment: "End date of the supplier contract"},
				{Name: "risk_level", Type: "character varying", Nullable: true, Comment: "Risk assessment level of the supply relationship"},
			},
			ForeignKeys: []ForeignKey{companyFK("company_id"), companyFK("supplier_id")},
		},
	}
}
